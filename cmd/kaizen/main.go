package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/kaizen/internal/clustering"
	"github.com/rakunlabs/kaizen/internal/config"
	"github.com/rakunlabs/kaizen/internal/conflict"
	"github.com/rakunlabs/kaizen/internal/embedding"
	"github.com/rakunlabs/kaizen/internal/facade"
	"github.com/rakunlabs/kaizen/internal/llmgateway"
	"github.com/rakunlabs/kaizen/internal/server"
	"github.com/rakunlabs/kaizen/internal/store"
	"github.com/rakunlabs/kaizen/internal/store/filesystem"
	"github.com/rakunlabs/kaizen/internal/store/vector"
	"github.com/rakunlabs/kaizen/internal/store/vector/sidedb"
	"github.com/rakunlabs/kaizen/internal/syncworker"
	"github.com/rakunlabs/kaizen/internal/tips"
	"github.com/rakunlabs/kaizen/internal/toolprotocol"
	"github.com/rakunlabs/kaizen/pkg/mcp"
)

var (
	name    = "kaizen"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	llmProvider, err := newLLMProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	gateway := llmgateway.New(llmProvider, cfg.LLM.SupportsSchema)

	embedCfg := cfg.Embedding
	if embedCfg.APIKey == "" {
		embedCfg.APIKey = cfg.LLM.APIKey
	}
	if embedCfg.BaseURL == "" {
		embedCfg.BaseURL = cfg.LLM.BaseURL
	}
	embedder, err := embedding.NewOpenAI(embedCfg.APIKey, embedCfg.BaseURL, embedCfg.Model, embedCfg.Dimension)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}

	resolver := conflict.New(gateway, cfg.LLM.ConflictResolutionModel)

	backend, closeBackend, err := newBackend(ctx, cfg.Backend, embedder, resolver)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}
	defer closeBackend()

	clusterer := clustering.New(backend, embedder, gateway, cfg.LLM.TipsModel, cfg.ClusteringThreshold)
	f := facade.New(backend, clusterer)
	facade.InitSingleton(f)

	tipGen := tips.New(gateway, cfg.LLM.TipsModel)

	m := mcp.New()
	toolprotocol.New(f, tipGen, cfg.NamespaceID).Register(m)

	if cfg.Sync.Enabled {
		worker, err := syncworker.New(cfg.Sync, f, tipGen)
		if err != nil {
			return fmt.Errorf("failed to create sync worker: %w", err)
		}
		if err := worker.StartScheduled(ctx); err != nil {
			return fmt.Errorf("failed to start sync worker: %w", err)
		}
	}

	srv := server.New(cfg.Server, config.Service, f, m)

	slog.Info("starting kaizen server", "host", cfg.Server.Host, "port", cfg.Server.Port, "backend", cfg.Backend.Type)

	return srv.Start(ctx)
}

func newLLMProvider(cfg config.LLM) (llmgateway.Provider, error) {
	switch cfg.Type {
	case "anthropic":
		return llmgateway.NewAnthropicProvider(cfg.APIKey, cfg.BaseURL)
	default:
		return llmgateway.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL)
	}
}

// newBackend selects and constructs the entity store backend per
// cfg.Type, returning a cleanup func the caller defers regardless of which
// backend was chosen.
func newBackend(ctx context.Context, cfg config.Backend, embedder embedding.Provider, resolver *conflict.Resolver) (store.Backend, func(), error) {
	switch cfg.Type {
	case "vector":
		milvusClient, err := client.NewGrpcClient(ctx, cfg.Vector.MilvusAddress)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to milvus: %w", err)
		}

		sideDB, err := sidedb.Open(ctx, cfg.Vector.SideDB.Driver, cfg.Vector.SideDB.Datasource, cfg.Vector.SideDB.Migrate.Table, cfg.Vector.SideDB.Migrate.Values)
		if err != nil {
			milvusClient.Close()
			return nil, nil, fmt.Errorf("open side database: %w", err)
		}

		backend := vector.New(milvusClient, sideDB, embedder, resolver)
		cleanup := func() {
			sideDB.Close()
			milvusClient.Close()
		}
		return backend, cleanup, nil
	default:
		backend, err := filesystem.New(cfg.Filesystem.Dir, resolver)
		if err != nil {
			return nil, nil, fmt.Errorf("open filesystem backend: %w", err)
		}
		return backend, func() {}, nil
	}
}
