package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/service"
	"deck-assistant-api/internal/workflow/port"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/metrics"
)

// ProviderResolver 根据模型名解析提供商
type ProviderResolver interface {
	ProviderFor(modelName string) string
}

// Backend 将 Eino ChatModel 适配为 service.LLMBackend
// 结果在此处一次性解码为 Success / Degraded / Failure
type Backend struct {
	factory  port.ChatModelFactory
	resolver ProviderResolver
	retry    config.RetryConfig
}

var _ service.LLMBackend = (*Backend)(nil)

// NewBackend 创建后端适配器
func NewBackend(factory port.ChatModelFactory, resolver ProviderResolver, retry config.RetryConfig) *Backend {
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 1
	}
	if retry.Initial <= 0 {
		retry.Initial = 2 * time.Second
	}
	if retry.Max <= 0 {
		retry.Max = retry.Initial
	}
	if retry.Multiplier <= 0 {
		retry.Multiplier = 2
	}
	return &Backend{factory: factory, resolver: resolver, retry: retry}
}

// Complete 执行一次补全
func (b *Backend) Complete(ctx context.Context, messages []service.Message, spec service.ModelSpec) service.Result {
	if len(messages) == 0 {
		return service.Failure{Err: errors.New("no messages to send")}
	}
	in := toSchemaMessages(messages)

	out, err := b.generate(ctx, in, spec, spec.Model)
	fallbackUsed := false
	if err != nil && Classify(err) == ClassCapability && spec.FallbackModel != "" && spec.FallbackModel != spec.Model {
		logger.Warn(ctx, "model rejected request, retrying with fallback model",
			"model", spec.Model,
			"fallback_model", spec.FallbackModel,
			"error", err.Error(),
		)
		out, err = b.generate(ctx, in, spec, spec.FallbackModel)
		fallbackUsed = err == nil
	}

	if err != nil {
		class := Classify(err)
		if class == ClassRateLimited {
			return service.Degraded{Reason: service.DegradedRateLimited}
		}
		return service.Failure{Err: fmt.Errorf("llm %s call failed (%s): %w", spec.Kind, class, err)}
	}

	text := strings.TrimSpace(out.Content)
	if text == "" {
		return service.Degraded{Reason: service.DegradedEmptyResponse}
	}

	actual := spec.Model
	if fallbackUsed {
		actual = spec.FallbackModel
	}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		u := out.ResponseMeta.Usage
		return service.Success{
			Text:         text,
			Model:        actual,
			FallbackUsed: fallbackUsed,
			Usage: service.Usage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      u.TotalTokens,
			},
		}
	}
	return service.Success{Text: text, Model: actual, FallbackUsed: fallbackUsed}
}

// generate 调用指定模型，网络错误与 5xx 按退避重试，其余错误立即返回
func (b *Backend) generate(ctx context.Context, in []*schema.Message, spec service.ModelSpec, modelName string) (*schema.Message, error) {
	provider := spec.Provider
	if provider == "" && b.resolver != nil {
		provider = b.resolver.ProviderFor(modelName)
	}
	ctx = service.WithWorkflowProvider(ctx, string(spec.Kind), provider)

	chatModel, err := b.factory.Get(ctx, provider)
	if err != nil {
		return nil, err
	}

	opts := []model.Option{model.WithModel(modelName)}
	if spec.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(spec.MaxTokens))
	}
	if spec.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(spec.Temperature)))
	}

	op := func() (*schema.Message, error) {
		out, err := chatModel.Generate(ctx, in, opts...)
		if err != nil {
			class := Classify(err)
			if !class.Retryable() {
				return nil, backoff.Permanent(err)
			}
			metrics.LLMRetriesTotal.WithLabelValues(modelName, string(class)).Inc()
			return nil, err
		}
		if out == nil {
			return nil, backoff.Permanent(errors.New("empty llm response"))
		}
		return out, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = b.retry.Initial
	expo.MaxInterval = b.retry.Max
	expo.Multiplier = b.retry.Multiplier

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(b.retry.MaxAttempts),
	)
}

func toSchemaMessages(messages []service.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case entity.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case entity.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}
