package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"

	"recipebox/backend/features/job"
	"recipebox/backend/features/recipe"
	"recipebox/backend/features/stats"
	"recipebox/backend/features/webhook"
	"recipebox/backend/internal/adapter/gemini"
	"recipebox/backend/internal/adapter/openai"
	"recipebox/backend/internal/adapter/push"
	"recipebox/backend/internal/adapter/scraper"
	"recipebox/backend/internal/assembly"
	"recipebox/backend/internal/config"
	"recipebox/backend/internal/correlation"
	"recipebox/backend/internal/metrics"
	"recipebox/backend/internal/middleware"
	"recipebox/backend/internal/resolution"
	"recipebox/backend/internal/worker"
	"recipebox/backend/internal/workflow"
)

// Publisher is the NSQ producer surface the app needs.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Consumer binds an NSQ topic to the handler that drains it.
type Consumer struct {
	Topic       string
	Channel     string
	Handler     nsq.Handler
	Concurrency int
}

type App struct {
	Handler   http.Handler
	Consumers []Consumer
	Pruner    *worker.Pruner
	Driver    *workflow.Driver

	port    int
	closers []func()
}

func New(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	rdb redis.UniversalClient,
	pub Publisher,
	logger *slog.Logger,
) (*App, error) {
	a := &App{port: cfg.ServerPort}

	// Storage
	recipeRepo := recipe.NewPostgresRepo(db)
	jobRepo := job.NewPostgresRepo(db)
	batchRepo := workflow.NewPostgresRepo(db)
	correlations := correlation.NewRedisStore(rdb)

	// Adapters
	pushClient := push.NewClient(cfg.PushGatewayURL, cfg.PushGatewayAPIKey)

	var (
		provider resolution.Provider
		verifier *openai.Verifier
	)
	switch cfg.InferenceProvider {
	case config.ProviderGemini:
		gen, err := gemini.NewGenAIGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini client error: %w", err)
		}
		p := gemini.NewProvider(gen, gemini.NewRedisOutputs(rdb, cfg.CorrelationTTL), pub, 0)
		a.closers = append(a.closers, func() {
			p.Wait()
			if err := gen.Close(); err != nil {
				slog.Warn("failed to close gemini client", "error", err)
			}
		})
		provider = p
	default:
		provider = openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		v, err := openai.NewVerifier(cfg.OpenAIWebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("webhook secret error: %w", err)
		}
		verifier = v
	}
	logger.Info("inference provider selected", "provider", provider.Name())

	// Resolution pipeline
	messages := assembly.Messages{
		ReadyTitle:  cfg.ReadyTitle,
		ReadyBody:   cfg.ReadyBody,
		FailedTitle: cfg.FailedTitle,
		FailedBody:  cfg.FailedBody,
	}
	assembler := assembly.NewAssembler(recipeRepo, pushClient, messages)
	reconciler := assembly.NewReconciler(recipeRepo, pushClient, messages)
	driver := workflow.NewDriver(batchRepo, pub, assembler)
	dispatcher := resolution.NewDispatcher(provider, correlations, cfg.CorrelationTTL)
	classifier := resolution.NewClassifier(provider, correlations, driver, resolution.RetryPolicy{MaxAttempts: cfg.MaxRetryCount})
	a.Driver = driver

	a.Consumers = []Consumer{
		{Topic: config.TopicIngredientDispatch, Channel: "backend", Handler: worker.NewDispatchConsumer(dispatcher, driver, jobRepo), Concurrency: cfg.DispatchConcurrency},
		{Topic: config.TopicIngredientCompletion, Channel: "backend", Handler: worker.NewCompletionConsumer(classifier, jobRepo), Concurrency: cfg.DispatchConcurrency},
		{Topic: config.TopicRecipeFailed, Channel: "backend", Handler: worker.NewFailureConsumer(reconciler, jobRepo), Concurrency: 1},
		{Topic: config.TopicOperatorAlert, Channel: "backend", Handler: worker.NewAlertConsumer(pushClient, cfg.OperatorChannel), Concurrency: 1},
	}
	a.Pruner = worker.NewPruner(driver, recipeRepo, cfg.PruneInterval)

	// Features
	recipeService := recipe.NewService(recipeRepo, scraper.New(), pushClient, driver, cfg.RecipeTTL)
	recipeHandler := recipe.NewHandler(recipeService)

	jobService := job.NewService(jobRepo, pub, logger)
	jobHandler := job.NewHandler(jobService)

	statsHandler := stats.NewHandler(recipeRepo, jobRepo)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.UserIDHeader)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}
	quota := middleware.NewUserQuota(cfg.QuotaPerMinute, cfg.QuotaBurst)

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /recipes", middleware.CorrelationID(enableCORS(quota.Wrap(recipeHandler.Scrape))))
	mux.Handle("GET /recipes/{id}", middleware.CorrelationID(enableCORS(quota.Wrap(recipeHandler.Get))))

	if verifier != nil {
		webhookHandler := webhook.NewHandler(verifier, correlations, pub)
		mux.Handle("POST /webhooks/inference", middleware.CorrelationID(http.HandlerFunc(webhookHandler.Inference)))
	}

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close waits for in-flight provider work and releases provider clients.
func (a *App) Close() {
	for _, c := range a.closers {
		c()
	}
}
