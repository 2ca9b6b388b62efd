package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dshills/langgraph-travel/graph"
	"github.com/dshills/langgraph-travel/graph/emit"
	"github.com/dshills/langgraph-travel/graph/model"
	"github.com/dshills/langgraph-travel/graph/model/anthropic"
	"github.com/dshills/langgraph-travel/graph/model/google"
	"github.com/dshills/langgraph-travel/graph/model/openai"
	"github.com/dshills/langgraph-travel/graph/store"
	"github.com/dshills/langgraph-travel/graph/tool"
	"github.com/dshills/langgraph-travel/internal/agent"
	"github.com/dshills/langgraph-travel/internal/config"
	"github.com/dshills/langgraph-travel/internal/log"
	"github.com/dshills/langgraph-travel/internal/rag"
	"github.com/dshills/langgraph-travel/internal/session"
	"github.com/dshills/langgraph-travel/internal/travel"
)

// app builds the components a command needs from the configuration and
// closes them when the command is done.
type app struct {
	cfg      *config.Config
	http     *tool.HTTPTool
	registry *prometheus.Registry
	metrics  *graph.PrometheusMetrics
	cost     *graph.CostTracker

	closers []io.Closer
}

func newApp(cfg *config.Config) *app {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &app{
		cfg:      cfg,
		http:     tool.NewHTTPTool(),
		registry: registry,
		metrics:  graph.NewPrometheusMetrics(registry),
		cost:     graph.NewCostTracker(),
	}
}

// Close closes every opened resource in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) onClose(c io.Closer) {
	a.closers = append(a.closers, c)
}

// chatModel returns the chat model of provider. The mock provider echoes
// the last user message and never calls a tool.
func (a *app) chatModel(provider, name string) (model.ChatModel, error) {
	llm := a.cfg.LLM
	switch provider {
	case "anthropic":
		if llm.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is not set")
		}
		return anthropic.NewChatModel(llm.AnthropicAPIKey, name).WithTemperature(llm.Temperature), nil
	case "openai":
		if llm.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is not set")
		}
		return openai.NewChatModel(llm.OpenAIAPIKey, name).WithTemperature(llm.Temperature), nil
	case "google":
		if llm.GoogleAPIKey == "" {
			return nil, errors.New("GOOGLE_API_KEY is not set")
		}
		return google.NewChatModel(llm.GoogleAPIKey, name).WithTemperature(llm.Temperature), nil
	case "mock":
		return &model.MockChatModel{Respond: echo}, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}

func echo(messages []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			return model.ChatOut{Text: "You said: " + strings.TrimSpace(messages[i].Content)}, nil
		}
	}
	return model.ChatOut{Text: "Hello."}, nil
}

func (a *app) embedder() (model.Embedder, error) {
	switch a.cfg.LLM.Embeddings {
	case "openai":
		if a.cfg.LLM.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is not set (required for embeddings)")
		}
		return openai.NewEmbedder(a.cfg.LLM.OpenAIAPIKey, a.cfg.LLM.EmbeddingModel), nil
	case "mock":
		return &model.MockEmbedder{}, nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", a.cfg.LLM.Embeddings)
	}
}

// checkpointStore opens the configured checkpoint backend.
func (a *app) checkpointStore(ctx context.Context) (store.Store[graph.State], error) {
	cp := a.cfg.Checkpoint
	var opts []store.Option
	if cp.Compress {
		opts = append(opts, store.WithCompression())
	}

	var (
		st  store.Store[graph.State]
		err error
	)
	switch cp.Backend {
	case "memory":
		return store.NewMemStore[graph.State](), nil
	case "sqlite":
		st, err = store.NewSQLiteStore[graph.State](cp.DSN, opts...)
	case "mysql":
		st, err = store.NewMySQLStore[graph.State](cp.DSN, opts...)
	case "redis":
		st, err = store.NewRedisStoreFromURL[graph.State](ctx, cp.DSN, opts...)
	case "badger":
		st, err = store.NewBadgerStore[graph.State](cp.DSN, opts...)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cp.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s checkpoint store: %w", cp.Backend, err)
	}
	if c, ok := st.(io.Closer); ok {
		a.onClose(c)
	}
	log.Debugf("using %s checkpoint store", cp.Backend)
	return st, nil
}

// travelDB opens the local travel database, downloading it first when it
// is missing.
func (a *app) travelDB(ctx context.Context) (*travel.DB, error) {
	t := a.cfg.Travel
	if err := travel.EnsureLocal(ctx, a.http, t.DBURL, t.LocalDBPath, t.BackupDBPath); err != nil {
		return nil, err
	}
	db, err := travel.Open(t.LocalDBPath)
	if err != nil {
		return nil, err
	}
	a.onClose(db)
	return db, nil
}

func (a *app) toolset(ctx context.Context) (*travel.Toolset, error) {
	db, err := a.travelDB(ctx)
	if err != nil {
		return nil, err
	}

	var policy *travel.PolicyRetriever
	if a.cfg.Travel.PolicyURL != "" {
		embedder, err := a.embedder()
		if err != nil {
			return nil, err
		}
		policy = travel.NewPolicyRetriever(travel.PolicyFromURL(a.http, a.cfg.Travel.PolicyURL), embedder)
	}

	var search *travel.WebSearch
	if a.cfg.Travel.TavilyAPIKey != "" {
		search = travel.NewWebSearch(a.http, a.cfg.Travel.TavilyAPIKey)
	} else {
		log.Warnf("TAVILY_API_KEY is not set; web search is disabled")
	}
	return travel.NewToolset(db, policy, search), nil
}

// sessions builds the travel assistant engine and its session controller.
// emitter may be nil.
func (a *app) sessions(ctx context.Context, emitter emit.Emitter) (*session.Controller, error) {
	chat, err := a.chatModel(a.cfg.LLM.Provider, a.cfg.LLM.Model)
	if err != nil {
		return nil, err
	}
	tools, err := a.toolset(ctx)
	if err != nil {
		return nil, err
	}
	st, err := a.checkpointStore(ctx)
	if err != nil {
		return nil, err
	}

	engine, err := agent.New(agent.Config{
		Model:   chat,
		Tools:   tools,
		Store:   st,
		Emitter: emitter,
		Cost:    a.cost,
		Options: a.engineOptions(),
	})
	if err != nil {
		return nil, err
	}
	return session.New(engine,
		session.WithDefaults(map[string]string{agent.PassengerKey: a.cfg.Travel.PassengerID}),
		session.WithMetrics(a.metrics)), nil
}

func (a *app) engineOptions() []graph.Option {
	return []graph.Option{
		graph.WithMetrics(a.metrics),
		graph.WithLogger(log.Default),
		graph.WithNodeTimeout(a.cfg.LLM.Timeout),
	}
}

// pipeline builds the retrieval pipeline. Its threads are kept in memory.
func (a *app) pipeline(emitter emit.Emitter) (*rag.Pipeline, error) {
	r := a.cfg.RAG
	var models rag.Models
	for _, m := range []struct {
		dst  *model.ChatModel
		name string
	}{
		{&models.Agent, r.AgentModel},
		{&models.Grader, r.GraderModel},
		{&models.Rewrite, r.RewriteModel},
		{&models.Generator, r.GeneratorModel},
	} {
		chat, err := a.chatModel(r.Provider, m.name)
		if err != nil {
			return nil, err
		}
		*m.dst = chat
	}

	embedder, err := a.embedder()
	if err != nil {
		return nil, err
	}
	return rag.NewPipeline(rag.PipelineConfig{
		Models:   models,
		Loader:   rag.NewLoader(a.http, r.ChunkSize, r.ChunkOverlap),
		Embedder: embedder,
		URLs:     r.URLs,
		TopK:     r.TopK,
		Emitter:  emitter,
		Cost:     a.cost,
		Options:  a.engineOptions(),
	})
}
