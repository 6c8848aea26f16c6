// Command riskwise analyzes one transaction from a JSON input file and prints
// the resulting decision. External services (Postgres, Redis, Qdrant,
// RabbitMQ, threat feed) are optional; the pipeline degrades to its
// deterministic paths when they are disabled.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/riskwise/riskwise/internal/arbiter"
	"github.com/riskwise/riskwise/internal/collectors"
	"github.com/riskwise/riskwise/internal/config"
	"github.com/riskwise/riskwise/internal/debate"
	"github.com/riskwise/riskwise/internal/embedding"
	"github.com/riskwise/riskwise/internal/escalation"
	"github.com/riskwise/riskwise/internal/llm"
	"github.com/riskwise/riskwise/internal/models"
	"github.com/riskwise/riskwise/internal/observability"
	"github.com/riskwise/riskwise/internal/pipeline"
	"github.com/riskwise/riskwise/internal/storage"
	"github.com/riskwise/riskwise/internal/threat"
	"github.com/riskwise/riskwise/internal/vectordb"
	"github.com/riskwise/riskwise/internal/vectordb/qdrant"
)

// analysisInput is the JSON document accepted on the command line.
type analysisInput struct {
	Transaction *models.Transaction             `json:"transaction"`
	Profile     *models.CustomerBehaviorProfile `json:"profile"`
}

func main() {
	inputPath := flag.String("input", "", "path to a JSON file holding the transaction and customer profile")
	configPath := flag.String("config", "", "optional YAML config file overlaying the environment")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.Load()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := newLogger(cfg.Log)

	if *inputPath == "" {
		logger.Fatal("missing -input: provide a JSON file with the transaction and profile")
	}

	input, err := readInput(*inputPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to read analysis input")
	}

	ctx := context.Background()
	deps, cleanup, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to wire pipeline dependencies")
	}
	defer cleanup()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	orchestrator := pipeline.New(deps, pipeline.Config{
		RunTimeout:       cfg.Pipeline.RunTimeout,
		CollectorTimeout: cfg.Pipeline.CollectorTimeout,
	}, logger)

	decision, err := orchestrator.Analyze(ctx, input.Transaction, input.Profile)
	if err != nil {
		logger.WithError(err).Fatal("analysis failed")
	}

	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		logger.WithError(err).Fatal("failed to encode decision")
	}
	fmt.Println(string(out))
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func readInput(path string) (*analysisInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	var input analysisInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input file: %w", err)
	}
	return &input, nil
}

// buildDeps wires every pipeline collaborator from the configuration.
// The returned cleanup closes whatever connections were opened.
func buildDeps(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (pipeline.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var provider llm.Provider
	if cfg.LLM.APIKey != "" {
		provider = llm.NewOpenAIProvider(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, logger)
	} else {
		logger.Warn("no LLM API key configured, generative stages will use deterministic fallbacks")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { redisClient.Close() })
	}

	searcher, err := buildPolicySearcher(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return pipeline.Deps{}, nil, err
	}

	deps := pipeline.Deps{
		Context:  collectors.NewContextAnalyzer(nil),
		Behavior: collectors.NewBehaviorAnalyzer(redisClient, collectors.DefaultBehaviorConfig(), logger),
		Policy:   collectors.NewPolicyMatcher(searcher, provider, collectors.DefaultPolicyMatcherConfig(), logger),
		Threat:   threat.NewManager(buildThreatProviders(cfg, redisClient, logger), logger),
		Debate:   debate.NewEngine(provider, debate.DefaultConfig(), logger),
		Arbiter:  arbiter.New(provider, arbiter.DefaultConfig(), logger),
	}

	if cfg.Postgres.Enabled {
		pool, err := storage.NewPool(ctx, cfg.Postgres.DSN())
		if err != nil {
			cleanup()
			return pipeline.Deps{}, nil, err
		}
		closers = append(closers, pool.Close)

		repo := storage.NewDecisionRepository(pool, logger)
		if err := repo.CreateTable(ctx); err != nil {
			cleanup()
			return pipeline.Deps{}, nil, err
		}
		deps.Persistence = repo
	}

	if cfg.AMQP.Enabled {
		queue, err := escalation.NewCaseQueue(escalation.Config{
			URL:            cfg.AMQP.URL,
			Queue:          cfg.AMQP.Queue,
			PublishTimeout: 5 * time.Second,
		}, logger)
		if err != nil {
			cleanup()
			return pipeline.Deps{}, nil, err
		}
		closers = append(closers, func() { queue.Close() })
		deps.Escalation = queue
	} else {
		deps.Escalation = escalation.NewMemoryQueue()
	}

	if cfg.Metrics.Enabled {
		deps.Metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	}

	return deps, cleanup, nil
}

func buildPolicySearcher(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (collectors.PolicySearcher, error) {
	if !cfg.Qdrant.Enabled {
		return vectordb.NewStaticSearcher(vectordb.DefaultPolicies()), nil
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:    cfg.Qdrant.Host,
		Port:    cfg.Qdrant.Port,
		APIKey:  cfg.Qdrant.APIKey,
		UseTLS:  cfg.Qdrant.UseTLS,
		Timeout: cfg.Qdrant.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("qdrant unavailable: %w", err)
	}

	embedder := embedding.NewHTTPEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model)
	return vectordb.NewPolicyStore(client, embedder, "fraud_policies", logger), nil
}

func buildThreatProviders(cfg *config.Config, redisClient *redis.Client, logger *logrus.Logger) []threat.Provider {
	providers := []threat.Provider{
		threat.NewGeoRiskProvider(nil),
	}
	if redisClient != nil {
		providers = append(providers, threat.NewDenylistProvider(redisClient, logger))
	}
	if cfg.ThreatAPI.Enabled && cfg.ThreatAPI.BaseURL != "" {
		providers = append(providers, threat.NewFeedProvider(cfg.ThreatAPI.BaseURL, cfg.ThreatAPI.APIKey, cfg.ThreatAPI.Timeout, logger))
	}
	return providers
}

func serveMetrics(addr string, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.WithField("addr", addr).Info("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Warn("metrics server stopped")
	}
}
