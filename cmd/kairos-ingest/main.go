// Command kairos-ingest processes meeting transcript files from the
// command line, without going through the HTTP API. Each input is a
// YAML meeting document: attendees plus ordered transcript segments.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/kairoshq/kairos/internal/config"
	"github.com/kairoshq/kairos/internal/extract"
	"github.com/kairoshq/kairos/internal/graph"
	"github.com/kairoshq/kairos/internal/kv/postgres"
	"github.com/kairoshq/kairos/internal/kv/sqlite"
	"github.com/kairoshq/kairos/internal/llm"
	"github.com/kairoshq/kairos/internal/resolve"
	"github.com/kairoshq/kairos/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	user := flag.String("user", "", "override the user id on ingested meetings")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: kairos-ingest [-config file] [-user id] meeting.yaml ...")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	resolver, cleanup, err := buildPipeline(cfg, logger)
	if err != nil {
		logger.Fatal("init pipeline", zap.Error(err))
	}
	defer cleanup()

	ctx := context.Background()
	failed := 0
	for _, path := range flag.Args() {
		meeting, err := loadMeeting(path)
		if err != nil {
			logger.Error("load meeting", zap.String("path", path), zap.Error(err))
			failed++
			continue
		}
		if *user != "" {
			meeting.UserID = *user
		}
		if meeting.UserID == "" {
			meeting.UserID = "default"
		}

		result, err := resolver.ProcessMeeting(ctx, meeting)
		if err != nil {
			logger.Error("process meeting",
				zap.String("path", path),
				zap.String("meeting_id", meeting.MeetingID),
				zap.Error(err))
			failed++
			continue
		}
		fmt.Printf("%s: %d mentions (%d linked, %d ambiguous, %d new entities, %d edges)\n",
			meeting.MeetingID, result.Mentions, result.Linked, result.Ambiguous,
			result.NewEntities, result.Edges)
		if result.Degraded {
			fmt.Printf("%s: extraction degraded, reprocess to backfill mentions\n", meeting.MeetingID)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func loadMeeting(path string) (*types.Meeting, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meeting types.Meeting
	if err := yaml.Unmarshal(data, &meeting); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if meeting.MeetingID == "" {
		return nil, fmt.Errorf("%s: meeting_id is required", path)
	}
	if len(meeting.Segments) == 0 {
		return nil, fmt.Errorf("%s: no transcript segments", path)
	}
	return &meeting, nil
}

func buildPipeline(cfg *config.Config, logger *zap.Logger) (*resolve.Resolver, func(), error) {
	var (
		store   *graph.Store
		cleanup func()
	)
	switch cfg.Storage.Engine {
	case "postgres":
		pg, err := postgres.New(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store = graph.NewStore(pg, logger)
		cleanup = func() { pg.Close() }
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, nil, err
		}
		st, err := sqlite.New(filepath.Join(cfg.Storage.DataPath, "kairos.db"))
		if err != nil {
			return nil, nil, err
		}
		store = graph.NewStore(st, logger)
		cleanup = func() { st.Close() }
	}

	generator, err := llm.NewTextGenerator(llm.ProviderConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	extractor := extract.NewExtractor(generator, logger)
	retriever := resolve.NewRetriever(store, nil, logger)

	var scorer resolve.Scorer = resolve.FeatureScorer{}
	if cfg.Resolution.Scorer == "semantic" {
		scorer = resolve.NewSemanticScorer(generator, logger)
	}

	var edgeGenerator llm.TextGenerator
	if cfg.Resolution.EnableEdges {
		edgeGenerator = generator
	}
	return resolve.NewResolver(store, extractor, retriever, scorer, edgeGenerator, logger), cleanup, nil
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
