package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassUnknown},
		{"deadline", fmt.Errorf("stage: %w", context.DeadlineExceeded), ClassTimeout},
		{"canceled", context.Canceled, ClassTimeout},
		{"rate limited", &StatusError{Code: 429, Message: "too many"}, ClassRateLimited},
		{"openai text 429", errors.New("error, status code: 429, status: 429 Too Many Requests, message: rate limit"), ClassRateLimited},
		{"server", &StatusError{Code: 500}, ClassServer},
		{"gateway text", errors.New("error, status code: 503, message: overloaded"), ClassServer},
		{"auth", &StatusError{Code: 401, Message: "bad key"}, ClassAuth},
		{"capability", &StatusError{Code: 400, Message: "Unsupported parameter: 'temperature'"}, ClassCapability},
		{"model missing", &StatusError{Code: 404, Message: "The model `x` does not exist"}, ClassCapability},
		{"context length", &StatusError{Code: 400, Message: "maximum context length is 8192"}, ClassContextLength},
		{"client", &StatusError{Code: 422, Message: "nope"}, ClassClient},
		{"net op", &net.OpError{Op: "dial", Err: errors.New("refused")}, ClassNetwork},
		{"eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), ClassNetwork},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), ClassNetwork},
		{"other", errors.New("weird"), ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorClass_Retryable(t *testing.T) {
	assert.True(t, ClassNetwork.Retryable())
	assert.True(t, ClassServer.Retryable())
	assert.False(t, ClassRateLimited.Retryable())
	assert.False(t, ClassTimeout.Retryable())
	assert.False(t, ClassCapability.Retryable())
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 0, StatusCode(nil))
	assert.Equal(t, 418, StatusCode(fmt.Errorf("wrap: %w", &StatusError{Code: 418})))
	assert.Equal(t, 502, StatusCode(errors.New("error, status code: 502, message: x")))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
}
