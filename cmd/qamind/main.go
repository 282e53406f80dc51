// Command qamind runs the QA assistant as an interactive console: questions
// are answered with project-document retrieval, and slash commands manage
// projects, documents, and history.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/qamind/qamind/internal/cache"
	"github.com/qamind/qamind/internal/config"
	"github.com/qamind/qamind/internal/conversation"
	"github.com/qamind/qamind/internal/llm"
	"github.com/qamind/qamind/internal/llm/providers/anthropic"
	"github.com/qamind/qamind/internal/llm/providers/openaicompat"
	"github.com/qamind/qamind/internal/models"
	"github.com/qamind/qamind/internal/observability"
	"github.com/qamind/qamind/internal/rag"
	"github.com/qamind/qamind/internal/ratelimit"
	"github.com/qamind/qamind/internal/services"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qamind: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	orch, collector, cleanup, err := buildOrchestrator(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build service")
	}
	defer cleanup()

	orch.Start()
	defer orch.Shutdown()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg.Metrics, collector.Handler(), logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runConsole(ctx, orch, logger)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info("Shutting down")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// buildOrchestrator assembles the full pipeline from configuration. The
// returned cleanup closes any external connections.
func buildOrchestrator(cfg *config.Config, logger *logrus.Logger) (*services.Orchestrator, *observability.Collector, func(), error) {
	providers, creds := buildProviders(cfg)
	if len(providers) == 0 {
		logger.Warn("No LLM provider configured; every request will use canned fallbacks")
	}

	tracker := ratelimit.NewTracker(&ratelimit.Config{
		Window:          cfg.RateLimit.Window,
		WarnThreshold:   cfg.RateLimit.WarnThreshold,
		SwitchThreshold: cfg.RateLimit.SwitchThreshold,
		WarnInterval:    time.Minute,
		ResetPolicy:     ratelimit.ResetPolicy(cfg.RateLimit.ResetPolicy),
		AutoResetAfter:  cfg.RateLimit.AutoResetAfter,
	}, logger)

	collector := observability.NewCollector()

	gwConfig := llm.DefaultGatewayConfig()
	gwConfig.CallTimeout = cfg.LLM.CallTimeout
	gwConfig.Retry.MaxRetries = cfg.LLM.MaxRetries
	gwConfig.Preferred = cfg.LLM.Preferred
	gwConfig.FallbackAnswers = defaultFallbackAnswers()
	gateway := llm.NewGateway(providers, creds, tracker, gwConfig, logger)
	gateway.SetObserver(collector)

	cleanup := func() {}
	var store cache.Store
	var sweeper services.Lifecycle
	if cfg.Cache.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPass,
			DB:       cfg.Cache.RedisDB,
		})
		store = cache.NewRedisStore(client, "qamind")
		cleanup = func() { _ = client.Close() }
	} else {
		mem := cache.NewMemoryStore(time.Minute)
		store = mem
		sweeper = mem
	}
	responseCache := cache.NewResponseCache(store, cfg.Cache.TTL, logger)
	responseCache.SetObserver(collector)

	snapshots, err := rag.NewFileSnapshots(cfg.Retrieval.SnapshotDir)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	chunkerCfg := rag.DefaultChunkerConfig()
	chunkerCfg.TargetSize = cfg.Retrieval.ChunkSize
	chunkerCfg.Overlap = cfg.Retrieval.ChunkOverlap

	orchCfg := services.DefaultOrchestratorConfig()
	orchCfg.TopK = cfg.Retrieval.TopK
	orchCfg.MinSimilarity = cfg.Retrieval.MinSimilarity
	orchCfg.HistoryTurns = cfg.Retrieval.HistoryTurns
	orchCfg.ModelLabel = cfg.Embedding.Model

	params := models.ModelParameters{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}

	orch := services.NewOrchestrator(services.Deps{
		Classifier: services.NewIntentClassifier(gateway, logger),
		Workflows:  services.NewWorkflows(gateway, services.DefaultValidationRules(), params, logger),
		Vectors:    rag.NewVectorStore(),
		Snapshots:  snapshots,
		Embedder:   rag.NewHTTPEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model, 0),
		Chunker:    rag.NewChunker(chunkerCfg),
		History:    conversation.NewHistory(conversation.DefaultCapacity),
		Cache:      responseCache,
		Sweeper:    sweeper,
		Tracker:    tracker,
		Metrics:    collector,
	}, orchCfg, logger)
	return orch, collector, cleanup, nil
}

func buildProviders(cfg *config.Config) ([]llm.Provider, llm.CredentialStore) {
	keys := llm.StaticCredentials{}
	var providers []llm.Provider
	for _, name := range cfg.EnabledProviders() {
		p := cfg.LLM.Providers[name]
		keys[name] = p.APIKey
		switch name {
		case "anthropic":
			providers = append(providers, anthropic.NewWithBaseURL(p.APIKey, p.BaseURL, p.Models))
		default:
			providers = append(providers, openaicompat.New(name, p.APIKey, p.BaseURL, p.Models))
		}
	}
	return providers, keys
}

func defaultFallbackAnswers() map[string]string {
	return map[string]string{
		string(services.IntentTestCaseGeneration):  "All LLM providers are currently unavailable. Start from a manual test matrix: one positive flow per requirement, invalid-input negatives for each field, and boundary cases for every limit.",
		string(services.IntentBugReportFormatting): "All LLM providers are currently unavailable. Structure the report manually: Title, Severity, Environment, Steps to Reproduce, Expected Result, Actual Result.",
		string(services.IntentGeneralQuestion):     "All LLM providers are currently unavailable. Please retry in a few minutes.",
	}
}

func startMetricsServer(cfg config.MetricsConfig, handler http.Handler, logger *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, handler)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.WithField("addr", cfg.Addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	return srv
}

const consoleHelp = `Commands:
  /project <id>          switch project (default "default")
  /ingest <file>         chunk, embed, and index a document
  /load                  restore the project's vector snapshot
  /history               show recent turns
  /clear                 clear the project's conversation history
  /delete                delete the project's vectors, snapshot, and history
  /status <provider>     show a provider's call-rate status
  /quit                  exit
Anything else is sent as a question.`

func runConsole(ctx context.Context, orch *services.Orchestrator, logger *logrus.Logger) {
	project := "default"
	if err := orch.LoadProject(project); err != nil {
		logger.WithError(err).Warn("Failed to restore default project snapshot")
	}

	fmt.Println("qamind ready. Type /help for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Printf("[%s] > ", project)
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case line, ok = <-lines:
			if !ok {
				return
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, orch, &project, line); quit {
				return
			}
			continue
		}

		answer, err := orch.Ask(ctx, project, line)
		if err != nil {
			fmt.Println(llm.UserMessage(err))
			continue
		}
		printAnswer(answer)
	}
}

func runCommand(ctx context.Context, orch *services.Orchestrator, project *string, line string) (quit bool) {
	parts := strings.SplitN(line, " ", 2)
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println(consoleHelp)
	case "/project":
		if arg == "" {
			fmt.Println("usage: /project <id>")
			break
		}
		*project = arg
		if err := orch.LoadProject(arg); err != nil {
			fmt.Printf("failed to restore snapshot: %v\n", err)
		}
	case "/ingest":
		if arg == "" {
			fmt.Println("usage: /ingest <file>")
			break
		}
		data, err := os.ReadFile(arg)
		if err != nil {
			fmt.Printf("read failed: %v\n", err)
			break
		}
		n, err := orch.Ingest(ctx, *project, arg, string(data))
		if err != nil {
			fmt.Printf("ingest failed: %v\n", err)
			break
		}
		fmt.Printf("indexed %d chunks from %s\n", n, arg)
	case "/load":
		if err := orch.LoadProject(*project); err != nil {
			fmt.Printf("load failed: %v\n", err)
		}
	case "/history":
		for _, turn := range orch.History(*project, 0) {
			fmt.Printf("%s  %s\n  -> %s\n", turn.Timestamp.Format(time.TimeOnly), turn.UserMessage, firstLine(turn.AssistantResponse))
		}
	case "/clear":
		orch.ClearHistory(*project)
		fmt.Println("history cleared")
	case "/delete":
		if err := orch.DeleteProject(*project); err != nil {
			fmt.Printf("delete failed: %v\n", err)
			break
		}
		fmt.Printf("project %s deleted\n", *project)
	case "/status":
		if arg == "" {
			fmt.Println("usage: /status <provider>")
			break
		}
		st := orch.RateStatus(arg)
		fmt.Printf("%s: %d calls/min, %d calls/hr, state=%s deprioritized=%v\n",
			arg, st.CallsLastMinute, st.CallsLastHour, st.State, st.Deprioritized)
	default:
		fmt.Println("unknown command; /help lists commands")
	}
	return false
}

func printAnswer(a *models.Answer) {
	fmt.Println(a.Content)
	var tags []string
	if a.Cached {
		tags = append(tags, "cached")
	}
	if a.Fallback {
		tags = append(tags, "fallback")
	} else if a.FailoverUsed {
		tags = append(tags, "failover")
	}
	if len(a.DocumentsUsed) > 0 {
		tags = append(tags, "docs: "+strings.Join(a.DocumentsUsed, ", "))
	}
	if len(tags) > 0 {
		fmt.Printf("(%s | %s)\n", a.Workflow, strings.Join(tags, " | "))
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
