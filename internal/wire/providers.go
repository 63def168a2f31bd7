// Package wire 提供依赖注入配置
package wire

import (
	"context"
	"fmt"
	"os"

	"deck-assistant-api/internal/application/cache"
	"deck-assistant-api/internal/application/chat"
	"deck-assistant-api/internal/application/guardrail"
	"deck-assistant-api/internal/application/quota"
	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/repository"
	"deck-assistant-api/internal/domain/service"
	"deck-assistant-api/internal/infrastructure/embedding"
	"deck-assistant-api/internal/infrastructure/llm"
	"deck-assistant-api/internal/infrastructure/messaging"
	"deck-assistant-api/internal/infrastructure/persistence/milvus"
	"deck-assistant-api/internal/infrastructure/persistence/postgres"
	"deck-assistant-api/internal/infrastructure/persistence/redis"
	"deck-assistant-api/internal/interfaces/http/handler"
	"deck-assistant-api/internal/interfaces/http/router"
	"deck-assistant-api/internal/workflow/prompt"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/utils"
)

// App API 网关依赖容器
type App struct {
	Router   *router.Router
	Chat     *chat.Service
	Recorder *quota.LLMUsageRecorder
}

// Worker 后台摘要刷新依赖容器
type Worker struct {
	Consumer *messaging.Consumer
	Recorder *quota.LLMUsageRecorder
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideMilvusClientOptional 未启用或不可达时返回 nil，不阻塞启动
func ProvideMilvusClientOptional(ctx context.Context, cfg *config.Config) (*milvus.Client, func(), error) {
	if !cfg.Vector.Milvus.Enabled || !cfg.Features.Snippets.Enabled {
		return nil, func() {}, nil
	}
	client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		logger.Warn(ctx, "milvus not available, thread snippets disabled", "error", err.Error())
		return nil, func() {}, nil
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideEmbeddingClientOptional 未配置 embedding 时返回 nil
func ProvideEmbeddingClientOptional(ctx context.Context, cfg *config.Config, milvusClient *milvus.Client) *embedding.Client {
	if milvusClient == nil {
		return nil
	}
	embedder, err := embedding.NewEinoEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		logger.Warn(ctx, "embedding not available, thread snippets disabled", "error", err.Error())
		return nil
	}
	return embedding.NewClient(embedder, &cfg.Embedding)
}

// ProvideSnippetIndex 片段索引，依赖缺失或集合初始化失败时返回 nil
func ProvideSnippetIndex(ctx context.Context, cfg *config.Config, milvusClient *milvus.Client, embedClient *embedding.Client) *chat.SnippetIndex {
	if milvusClient == nil || embedClient == nil {
		return nil
	}
	repo := milvus.NewSnippetRepository(milvusClient, cfg.Embedding.Dimension)
	if err := repo.EnsureCollection(ctx); err != nil {
		logger.Warn(ctx, "ensure snippet collection failed, thread snippets disabled", "error", err.Error())
		return nil
	}
	return chat.NewSnippetIndex(embedClient, repo, cfg.Vector.Milvus.SearchTopK)
}

// ProvideKVCache 响应缓存后端，memory 仅用于单实例部署
func ProvideKVCache(cfg *config.Config, client *redis.Client) repository.KVCache {
	if cfg.Cache.Backend == "memory" {
		return cache.NewMemoryKV()
	}
	return redis.NewCache(client)
}

// ProvideQuotaStore Redis 计数存储
func ProvideQuotaStore(client *redis.Client) repository.QuotaStore {
	return redis.NewQuotaStore(client)
}

// ProvideGuard 请求配额守卫
func ProvideGuard(store repository.QuotaStore, cfg *config.Config) *quota.Guard {
	return quota.NewGuard(store, &cfg.Quota)
}

// ProvideTokenQuotaChecker 每日 token 预算
func ProvideTokenQuotaChecker(repo repository.LLMUsageEventRepository, cfg *config.Config) *quota.TokenQuotaChecker {
	return quota.NewTokenQuotaChecker(repo, cfg.Quota.DailyTokenBudget)
}

// ProvideLLMBackend Eino 后端，提供商由模型声明解析
func ProvideLLMBackend(factory *llm.EinoFactory, cfg *config.Config) service.LLMBackend {
	return llm.NewBackend(factory, factory, cfg.LLM.Retry)
}

// ProvideModelSelector 按等级选模型
func ProvideModelSelector(cfg *config.Config) *chat.ModelSelector {
	return chat.NewModelSelector(&cfg.LLM)
}

// ProvideKnowledgeBase 规则知识库，未配置文件时使用内嵌数据
func ProvideKnowledgeBase(cfg *config.Config) (*chat.KnowledgeBase, error) {
	return chat.LoadKnowledgeBase(cfg.Chat.KnowledgeFile)
}

// ProvideValidator 卡牌校验器
func ProvideValidator(cards repository.CardRepository) *guardrail.Validator {
	return guardrail.NewValidator(guardrail.NewRepositoryIndex(cards))
}

// ProvideOrchestrator 推理编排器
func ProvideOrchestrator(
	cfg *config.Config,
	backend service.LLMBackend,
	selector *chat.ModelSelector,
	prompts *prompt.Registry,
	kv repository.KVCache,
	kb *chat.KnowledgeBase,
	validator *guardrail.Validator,
	tokens *quota.TokenQuotaChecker,
) *chat.Orchestrator {
	return chat.NewOrchestrator(chat.OrchestratorDeps{
		Backend:   backend,
		Selector:  selector,
		Prompts:   prompts,
		Responses: cache.NewResponseCache(kv, cfg.Chat.ResponseTTL),
		Notes:     cache.NewNoteCache(cfg.Chat.ResearchTTL),
		Knowledge: kb,
		Validator: validator,
		Tokens:    tokens,
	}, &cfg.LLM, &cfg.Chat, &cfg.Features)
}

// ProvideComposer 上下文组装器
func ProvideComposer(cfg *config.Config, decks repository.DeckRepository, convs repository.ConversationRepository, snippets *chat.SnippetIndex) chat.Composer {
	var retriever chat.SnippetRetriever
	if snippets != nil {
		retriever = snippets
	}
	return chat.NewDefaultComposer(decks, convs, retriever, &cfg.Chat)
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(client *redis.Client, cfg *config.Config) *messaging.Producer {
	maxLen := cfg.Messaging.RedisStream.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	return messaging.NewProducer(client.Redis(), int64(maxLen))
}

// ProvideChatService 对话服务
func ProvideChatService(
	cfg *config.Config,
	guard *quota.Guard,
	convs repository.ConversationRepository,
	composer chat.Composer,
	orchestrator *chat.Orchestrator,
	producer *messaging.Producer,
	tx repository.Transactor,
) *chat.Service {
	return chat.NewService(guard, convs, composer, orchestrator, producer, &cfg.Features).WithTransactor(tx)
}

// ProvideJWTManager JWT 管理器
func ProvideJWTManager(cfg *config.Config) *utils.JWTManager {
	return utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer)
}

// ProvideHealthHandler 健康检查，milvus 未启用时不参与探测
func ProvideHealthHandler(cfg *config.Config, pg *postgres.Client, rdb *redis.Client, milvusClient *milvus.Client) *handler.HealthHandler {
	var vector handler.Pinger
	if milvusClient != nil {
		vector = milvusClient
	}
	return handler.NewHealthHandler(cfg.App.Version, pg, rdb, vector)
}

// ProvideAuthHandler 访客 token 签发
func ProvideAuthHandler(jwtManager *utils.JWTManager, cfg *config.Config) *handler.AuthHandler {
	return handler.NewAuthHandler(jwtManager, cfg.Security.JWT.GuestExpiration)
}

// ProvideChatHandler 对话处理器
func ProvideChatHandler(svc *chat.Service) *handler.ChatHandler {
	return handler.NewChatHandler(svc)
}

// ProvideRouter HTTP 路由
func ProvideRouter(cfg *config.Config, jwtManager *utils.JWTManager, health *handler.HealthHandler, auth *handler.AuthHandler, chatHandler *handler.ChatHandler) *router.Router {
	return router.New(cfg, jwtManager, router.Handlers{
		Health: health,
		Auth:   auth,
		Chat:   chatHandler,
	})
}

// ProvideSummaryRefresher 摘要刷新器
func ProvideSummaryRefresher(
	cfg *config.Config,
	convs repository.ConversationRepository,
	backend service.LLMBackend,
	selector *chat.ModelSelector,
	prompts *prompt.Registry,
	snippets *chat.SnippetIndex,
) *chat.SummaryRefresher {
	return chat.NewSummaryRefresher(convs, backend, selector, prompts, snippets, &cfg.LLM, &cfg.Chat)
}

// ProvideSummaryConsumer 订阅摘要流并注册处理器
func ProvideSummaryConsumer(client *redis.Client, cfg *config.Config, refresher *chat.SummaryRefresher) *messaging.Consumer {
	rs := cfg.Messaging.RedisStream
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "job-worker"
	}

	backoff := messaging.DefaultBackoffConfig()
	if rs.RetryBackoff.Initial > 0 {
		backoff = messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		}
	}

	group := messaging.ConsumerGroupSummaryWorker
	if rs.ConsumerGroupPrefix != "" {
		group = messaging.ConsumerGroup(rs.ConsumerGroupPrefix + string(group))
	}

	consumer := messaging.NewConsumer(client.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamChatSummary,
		Group:         group,
		ConsumerName:  fmt.Sprintf("%s-%d", host, os.Getpid()),
		BlockTimeout:  rs.BlockTimeout,
		ClaimInterval: rs.ClaimInterval,
		RetryLimit:    rs.RetryLimit,
		Backoff:       backoff,
	})
	consumer.RegisterHandler(messaging.MessageTypeSummaryRefresh, refresher.HandleMessage)
	return consumer
}
