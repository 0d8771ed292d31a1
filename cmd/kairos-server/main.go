// Command kairos-server runs the Kairos knowledge graph API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kairoshq/kairos/internal/config"
	"github.com/kairoshq/kairos/internal/extract"
	"github.com/kairoshq/kairos/internal/graph"
	"github.com/kairoshq/kairos/internal/kv"
	"github.com/kairoshq/kairos/internal/kv/postgres"
	"github.com/kairoshq/kairos/internal/kv/sqlite"
	"github.com/kairoshq/kairos/internal/llm"
	"github.com/kairoshq/kairos/internal/merge"
	"github.com/kairoshq/kairos/internal/resolve"
	"github.com/kairoshq/kairos/internal/server"
	"github.com/kairoshq/kairos/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	backend, embedSource, indexer, err := openStorage(cfg, logger)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer backend.Close()

	store := graph.NewStore(backend, logger)

	providerCfg := llm.ProviderConfig{
		Provider:       cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		BaseURL:        cfg.LLM.BaseURL,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	}
	generator, err := llm.NewTextGenerator(providerCfg, logger)
	if err != nil {
		logger.Fatal("init llm provider", zap.Error(err))
	}

	extractor := extract.NewExtractor(generator, logger)
	retriever := resolve.NewRetriever(store, embedSource, logger)

	var scorer resolve.Scorer = resolve.FeatureScorer{}
	if cfg.Resolution.Scorer == "semantic" {
		scorer = resolve.NewSemanticScorer(generator, logger)
	}

	var edgeGenerator llm.TextGenerator
	if cfg.Resolution.EnableEdges {
		edgeGenerator = generator
	}
	resolver := resolve.NewResolver(store, extractor, retriever, scorer, edgeGenerator, logger)
	merger := merge.NewCoordinator(store, logger)
	if indexer != nil {
		resolver.SetEntityIndexer(indexer)
		merger.SetEntityIndexer(indexer)
	}

	srv := server.New(cfg.Server, store, resolver, merger, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx, nil); err != nil {
		logger.Fatal("server", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// profileIndexer keeps the pgvector profile index in step with entity
// writes: resolution and merges push profile embeddings through it.
type profileIndexer struct {
	embedder llm.EmbeddingGenerator
	index    *postgres.EmbeddingIndex
}

func (p *profileIndexer) IndexEntity(ctx context.Context, e *types.Entity) error {
	vec, err := p.embedder.Embed(ctx, llm.ProfileText(e))
	if err != nil {
		return err
	}
	return p.index.Upsert(ctx, e.UserID, e.ID, vec)
}

func (p *profileIndexer) RemoveEntity(ctx context.Context, userID, entityID string) error {
	return p.index.Delete(ctx, userID, entityID)
}

// openStorage opens the configured KV engine and, for postgres with
// embeddings enabled, the vector candidate source and profile indexer.
func openStorage(cfg *config.Config, logger *zap.Logger) (kv.Store, resolve.EmbeddingCandidateSource, *profileIndexer, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		pg, err := postgres.New(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if !cfg.Storage.EnableEmbeddings {
			return pg, nil, nil, nil
		}

		embedder, err := llm.NewEmbeddingGenerator(llm.ProviderConfig{
			Provider:       cfg.LLM.Provider,
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
		}, logger)
		if err != nil {
			pg.Close()
			return nil, nil, nil, err
		}
		if embedder == nil {
			logger.Warn("provider has no embedding API, embeddings disabled",
				zap.String("provider", cfg.LLM.Provider))
			return pg, nil, nil, nil
		}

		index, err := postgres.NewEmbeddingIndex(pg.GetDB())
		if err != nil {
			pg.Close()
			return nil, nil, nil, err
		}
		source := func(ctx context.Context, userID, text string) ([]string, error) {
			vec, err := embedder.Embed(ctx, text)
			if err != nil {
				return nil, err
			}
			matches, err := index.Nearest(ctx, userID, vec, 10)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(matches))
			for i, m := range matches {
				ids[i] = m.EntityID
			}
			return ids, nil
		}
		return pg, source, &profileIndexer{embedder: embedder, index: index}, nil

	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, nil, nil, err
		}
		st, err := sqlite.New(filepath.Join(cfg.Storage.DataPath, "kairos.db"))
		if err != nil {
			return nil, nil, nil, err
		}
		return st, nil, nil, nil
	}
}
