// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	commonaws "pet-health-workers/internal/common/aws"
	"pet-health-workers/internal/common/camunda"
	"pet-health-workers/internal/common/config"
	"pet-health-workers/internal/common/credentials"
	"pet-health-workers/internal/common/database"
	apperrors "pet-health-workers/internal/common/errors"
	"pet-health-workers/internal/common/genai"
	"pet-health-workers/internal/common/logger"
	"pet-health-workers/internal/common/observability"

	"pet-health-workers/pkg/registry"

	bhp "pet-health-workers/internal/workers/pet-health/build-health-prompt"
	ga "pet-health-workers/internal/workers/pet-health/generate-assessment"
	no "pet-health-workers/internal/workers/pet-health/notify-owner"
	ser "pet-health-workers/internal/workers/pet-health/save-evaluation-record"
	um "pet-health-workers/internal/workers/pet-health/upload-media"
)

func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// connectPostgres opens and pings the evaluation store, retrying with backoff.
func connectPostgres(ctx context.Context, cfg config.PostgresConfig, attempts int, delay time.Duration, log *zap.Logger) (*database.PostgresClient, error) {
	var pg *database.PostgresClient
	err := retryWithBackoff(func() error {
		client, err := database.NewPostgres(cfg)
		if err != nil {
			return err
		}
		if err := client.Ping(ctx); err != nil {
			_ = client.Close()
			return err
		}
		pg = client
		return nil
	}, attempts, delay, log, "PostgreSQL connection")
	if err != nil {
		return nil, apperrors.NewDatabaseConnectionFailedError(err)
	}
	return pg, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name, cfg.Tracing, zapLog)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(camunda.ClientConfigFrom(cfg.Camunda))
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	for _, path := range cfg.Camunda.Processes {
		key, err := zeebe.DeployProcess(ctx, path)
		if err != nil {
			zapLog.Fatal("process deployment failed", zap.String("path", path), zap.Error(err))
		}
		zapLog.Info("process deployed", zap.String("path", path), zap.Int64("deploymentKey", key))
	}

	// --- Init PostgreSQL with retry ---
	pg, err := connectPostgres(ctx, cfg.Database.Postgres, 15, 2*time.Second, zapLog)
	if err != nil {
		stdErr := apperrors.Normalize(err)
		zapLog.Fatal("postgres failed after retries",
			zap.String("errorCode", string(stdErr.Code)),
			zap.String("details", stdErr.Details),
		)
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.Database.Postgres.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
		zapLog.Info("Evaluation schema applied")
	}

	// --- Init Elasticsearch (optional) ---
	var indexer ser.Indexer
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		indexer = esClient
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Init Redis (shared credential cursor) ---
	var redisClient *database.RedisClient
	if cfg.GenAI.Rotation.Store == "redis" {
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		zapLog.Info("Redis connected successfully")
	}

	// --- Init Generation Clients ---
	var rotator credentials.Rotator
	if redisClient != nil {
		rotator, err = credentials.New(cfg.GenAI, redisClient.Cmdable())
	} else {
		rotator, err = credentials.New(cfg.GenAI, nil)
	}
	if err != nil {
		zapLog.Fatal("credential pool init failed", zap.Error(err))
	}

	generator, err := genai.NewGenerator(cfg.GenAI)
	if err != nil {
		zapLog.Fatal("generator init failed", zap.Error(err))
	}
	files := genai.NewFileClient(cfg.GenAI.BaseURL, cfg.GenAI.UploadURL, time.Duration(cfg.GenAI.Timeout)*time.Millisecond)

	zapLog.Info("Generation clients initialized",
		zap.String("provider", cfg.GenAI.Provider),
		zap.String("model", cfg.GenAI.Model),
		zap.Int("credentials", rotator.Size()),
		zap.String("rotationStore", cfg.GenAI.Rotation.Store),
	)

	// --- Init AWS Notification Clients ---
	var emailSender no.EmailSender
	var smsSender no.SMSSender
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		awsCfg, err := commonaws.LoadConfig(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("aws config load failed", zap.Error(err))
		}
		if cfg.Notifications.Email.Enabled {
			emailSender = commonaws.NewSESClient(awsCfg)
		}
		if cfg.Notifications.SMS.Enabled {
			smsSender = commonaws.NewSNSClient(awsCfg)
		}
	}

	reg, err := registry.LoadRegistry(cfg.Registry.Path)
	if err == nil {
		err = reg.Validate()
	}
	if err != nil {
		zapLog.Warn("activity registry unavailable", zap.String("path", cfg.Registry.Path), zap.Error(err))
		reg = nil
	}

	// --- Register Workers ---
	client := zeebe.GetClient()
	var workers []worker.JobWorker
	start := func(taskType string, handler camunda.JobHandler) {
		if !config.IsWorkerEnabled(cfg, taskType) {
			zapLog.Info("worker disabled", zap.String("taskType", taskType))
			return
		}
		if reg != nil {
			if activity, ok := reg.FindByTaskType(taskType); ok {
				timeout, _ := activity.TimeoutDuration()
				zapLog.Debug("registry activity",
					zap.String("taskType", taskType),
					zap.String("id", activity.ID),
					zap.String("version", activity.Version),
					zap.Duration("timeout", timeout),
				)
			} else {
				zapLog.Warn("worker has no registry entry", zap.String("taskType", taskType))
			}
		}
		workers = append(workers, camunda.StartWorker(client, taskType, config.GetWorkerConfig(cfg, taskType), handler, obs, zapLog))
	}

	promptCfg := bhp.LoadConfig()
	promptCfg.DefaultLanguage = cfg.GenAI.Language
	promptHandler, err := bhp.NewHandler(promptCfg, log)
	if err != nil {
		zapLog.Fatal("failed to create build-health-prompt handler", zap.Error(err))
	}
	start(bhp.TaskType, promptHandler)

	start(um.TaskType, um.NewHandler(um.ConfigFrom(cfg.Media), files, rotator, log))
	start(ga.TaskType, ga.NewHandler(ga.ConfigFrom(cfg.GenAI, config.GetWorkerConfig(cfg, ga.TaskType)), generator, rotator, log))

	recordCfg := ser.LoadConfig()
	recordCfg.SearchIndex = cfg.Database.Elasticsearch.Index
	start(ser.TaskType, ser.NewHandler(recordCfg, pg.DB, indexer, log))

	start(no.TaskType, no.NewHandler(no.ConfigFrom(cfg.Notifications), emailSender, smsSender, log))

	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.Handle("/debug/", http.DefaultServeMux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy", nil)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{"zeebe": "ok", "postgres": "ok"}
		status := http.StatusOK
		if err := zeebe.HealthCheck(checkCtx); err != nil {
			checks["zeebe"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := pg.Ping(checkCtx); err != nil {
			checks["postgres"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if status == http.StatusOK {
			writeStatus(w, status, "ready", checks)
		} else {
			writeStatus(w, status, "not ready", checks)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Close()
		w.AwaitClose()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping Health/Metrics server", zap.Error(err))
	}

	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func writeStatus(w http.ResponseWriter, code int, status string, checks map[string]string) {
	body := map[string]interface{}{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}
	if checks != nil {
		body["checks"] = checks
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
