// Package eino 注册 Eino 全局回调，统一上报 LLM 调用的指标、追踪与用量流水
package eino

import (
	"sync"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"

	"deck-assistant-api/internal/domain/service"
)

var initOnce sync.Once

// Init 注册 Eino 全局 callbacks（进程级一次）
func Init(recorder service.LLMUsageRecorder) {
	initOnce.Do(func() {
		handler := cbtemplate.NewHandlerHelper().
			ChatModel(newChatModelCallbackHandler(recorder)).
			Handler()
		einocallbacks.AppendGlobalHandlers(handler)
	})
}
