package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"uniassist/internal/chunker"
	"uniassist/internal/config"
	"uniassist/internal/conversation"
	"uniassist/internal/crawler"
	"uniassist/internal/docstore"
	"uniassist/internal/embedding"
	"uniassist/internal/ingest"
	"uniassist/internal/llm"
	"uniassist/internal/monitor"
	"uniassist/internal/objectstore"
	"uniassist/internal/orchestrator"
	"uniassist/internal/profile"
	"uniassist/internal/rag"
	"uniassist/internal/resolver"
	"uniassist/internal/searchlog"
	"uniassist/internal/server"
	"uniassist/internal/tools"
	"uniassist/internal/vectorstore"
	"uniassist/internal/websearch"
)

// app is the composition root shared by the subcommands. Every
// component is built once from the loaded config; subcommands pick the
// pieces they need.
type app struct {
	cfg *config.Config
	log *zap.Logger

	docs      *docstore.Store
	vectors   *vectorstore.Store
	redisc    *redis.Client
	embedder  *embedding.Gateway
	engine    *rag.Engine
	suite     llm.Suite
	profiles  *profile.Service
	conv      *conversation.Builder
	objects   objectstore.Store
	pipeline  *ingest.Pipeline
	scheduler *monitor.Scheduler
	detector  *searchlog.Detector
	orch      *orchestrator.Orchestrator
	srv       *server.Server
}

func buildApp(ctx context.Context) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	var err error
	a.docs, err = docstore.Open(cfg.Storage.DatabasePath, logger.Named("docstore"))
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	a.vectors, err = vectorstore.Open(cfg.Storage.DatabasePath, logger.Named("vectorstore"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	var engine embedding.Engine
	switch cfg.Embedding.Provider {
	case "", "genai":
		engine, err = embedding.NewGenAIEngine(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dim)
	case "ollama":
		engine, err = embedding.NewOllamaEngine(cfg.Embedding.OllamaEndpoint, cfg.Embedding.Model, cfg.Embedding.Dim)
	default:
		err = fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build embedding engine: %w", err)
	}

	var cache embedding.Cache
	if cfg.Cache.RedisAddr != "" {
		a.redisc = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		cache = embedding.NewRedisCache(a.redisc)
	} else {
		cache = embedding.NewMemoryCache()
	}
	a.embedder = embedding.NewGateway(engine, cache, cfg.CacheTTL(), cfg.Embedding.MaxInFlight, logger.Named("embedding"))
	a.engine = rag.NewEngine(a.embedder, a.vectors, cfg.RAG.ContextCharBudget, logger.Named("rag"))

	a.suite = llm.Suite{
		QA:        llm.NewGeminiClient(geminiConfig(cfg, cfg.LLM.QAModel), logger.Named("llm.qa")),
		Reasoning: llm.NewGeminiClient(geminiConfig(cfg, cfg.LLM.ReasoningModel), logger.Named("llm.reasoning")),
		Vision:    llm.NewGeminiClient(geminiConfig(cfg, cfg.LLM.VisionModel), logger.Named("llm.vision")),
	}

	a.profiles = profile.NewService(a.docs, a.suite.Reasoning, logger.Named("profile"))
	a.conv = conversation.NewBuilder(a.docs, 0, 0, logger.Named("conversation"))

	if cfg.Object.Endpoint != "" {
		a.objects, err = objectstore.NewS3Store(ctx, objectstore.S3Options{
			Endpoint:  cfg.Object.Endpoint,
			Region:    cfg.Object.Region,
			Bucket:    cfg.Object.Bucket,
			AccessKey: cfg.Object.AccessKey,
			SecretKey: cfg.Object.SecretKey,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect object store: %w", err)
		}
	} else {
		a.objects = objectstore.NewMemoryStore()
	}

	registry := tools.NewRegistry(cfg.ToolTimeout(), logger.Named("tools"))
	registry.MustRegister(tools.NewUseRAGContextTool(a.engine, a.suite.QA))
	registry.MustRegister(tools.NewSearchWebTool(websearch.NewDuckDuckGo(""), a.suite.QA))
	registry.MustRegister(tools.NewAnswerDirectlyTool(a.suite.QA))
	registry.MustRegister(tools.NewFillFormTool(a.profiles))
	registry.MustRegister(tools.NewClarifyTool())
	registry.MustRegister(tools.NewAnalyzeImageTool(a.suite.Vision, a.suite.QA, a.engine))

	triager := resolver.New(a.engine, a.suite.QA, a.suite.Reasoning, 0, logger.Named("resolver"))
	a.pipeline = ingest.NewPipeline(a.docs, triager, a.engine, logger.Named("ingest"))

	var fetcher crawler.Fetcher = crawler.NewHTTPFetcher()
	if cfg.Monitor.RenderWithChrome {
		fetcher = crawler.NewBrowserFetcher(crawler.BrowserConfig{}, fetcher, logger.Named("crawler"))
	}
	a.scheduler = monitor.NewScheduler(a.docs, fetcher, a.pipeline, monitor.Config{
		TickInterval: time.Duration(cfg.Monitor.IntervalHours) * time.Hour,
		CrawlTimeout: cfg.CrawlTimeout(),
		Concurrency:  int64(cfg.Monitor.MaxConcurrent),
	}, logger.Named("monitor"))

	a.detector = searchlog.NewDetector(a.docs, 0, 0, 0, logger.Named("searchlog"))

	a.orch = orchestrator.New(orchestrator.Deps{
		Registry:     registry,
		Retriever:    a.engine,
		Conversation: a.conv,
		Documents:    a.docs,
		Objects:      a.objects,
		SearchLog:    searchlog.NewLogger(a.docs, logger.Named("searchlog")),
		Audit:        a.docs,
		Memories:     a.profiles,
	}, orchestrator.Config{
		QAModel:     cfg.LLM.QAModel,
		PresignTTL:  cfg.PresignTTL(),
		DefaultTopK: cfg.RAG.TopK,
	}, logger.Named("orchestrator"))

	a.srv = server.New(a.orch, a.docs, a.objects, a.probes(), cfg.PresignTTL(), logger.Named("server"))
	return a, nil
}

func geminiConfig(cfg *config.Config, model string) llm.GeminiConfig {
	return llm.GeminiConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   model,
		Timeout: cfg.LLMTimeout(),
	}
}

func (a *app) probes() []server.Probe {
	probes := []server.Probe{
		{Name: "docstore", Check: a.docs.Health},
		{Name: "vectorstore", Check: a.vectors.Health},
	}
	if a.redisc != nil {
		probes = append(probes, server.Probe{Name: "redis", Check: func(ctx context.Context) error {
			return a.redisc.Ping(ctx).Err()
		}})
	}
	return probes
}

// chunking builds the configured chunker settings for indexing calls.
func (a *app) chunking() chunker.Config {
	return chunker.Config{
		ChunkSize:    a.cfg.Chunking.ChunkSize,
		ChunkOverlap: a.cfg.Chunking.ChunkOverlap,
		Strategy:     chunker.Strategy(a.cfg.Chunking.Strategy),
		MinChunkSize: a.cfg.Chunking.MinChunkSize,
	}
}

func (a *app) Close() {
	if a.orch != nil {
		a.orch.Wait()
	}
	if a.redisc != nil {
		_ = a.redisc.Close()
	}
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.docs != nil {
		_ = a.docs.Close()
	}
}
