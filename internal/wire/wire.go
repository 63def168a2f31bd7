//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	"deck-assistant-api/internal/application/quota"
	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/repository"
	"deck-assistant-api/internal/infrastructure/llm"
	"deck-assistant-api/internal/infrastructure/persistence/postgres"
	"deck-assistant-api/internal/workflow/prompt"
)

// InitializeApp 初始化 API 网关
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		VectorSet,
		LLMSet,
		ChatSet,
		HTTPSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// InitializeWorker 初始化摘要刷新 worker
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		VectorSet,
		LLMSet,
		ProvideSummaryRefresher,
		ProvideSummaryConsumer,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewDeckRepository,
	postgres.NewConversationRepository,
	postgres.NewCardRepository,
	postgres.NewLLMUsageEventRepository,
)

// RepoSet 具体实现与接口绑定
var RepoSet = wire.NewSet(
	PostgresSet,
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.DeckRepository), new(*postgres.DeckRepository)),
	wire.Bind(new(repository.ConversationRepository), new(*postgres.ConversationRepository)),
	wire.Bind(new(repository.CardRepository), new(*postgres.CardRepository)),
	wire.Bind(new(repository.LLMUsageEventRepository), new(*postgres.LLMUsageEventRepository)),
	quota.NewLLMUsageRecorder,
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	ProvideKVCache,
	ProvideQuotaStore,
	ProvideMessagingProducer,
)

// VectorSet 可选的片段检索
var VectorSet = wire.NewSet(
	ProvideMilvusClientOptional,
	ProvideEmbeddingClientOptional,
	ProvideSnippetIndex,
)

// LLMSet 模型后端与提示词
var LLMSet = wire.NewSet(
	llm.NewEinoFactory,
	ProvideLLMBackend,
	ProvideModelSelector,
	prompt.NewRegistry,
)

// ChatSet 对话流水线
var ChatSet = wire.NewSet(
	ProvideGuard,
	ProvideTokenQuotaChecker,
	ProvideKnowledgeBase,
	ProvideValidator,
	ProvideOrchestrator,
	ProvideComposer,
	ProvideChatService,
)

// HTTPSet HTTP 接口
var HTTPSet = wire.NewSet(
	ProvideJWTManager,
	ProvideHealthHandler,
	ProvideAuthHandler,
	ProvideChatHandler,
	ProvideRouter,
)
