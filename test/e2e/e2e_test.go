//go:build e2e

// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pet-health-workers/internal/common/camunda"
	"pet-health-workers/internal/common/config"
	"pet-health-workers/internal/common/credentials"
	"pet-health-workers/internal/common/database"
	"pet-health-workers/internal/common/genai"
	"pet-health-workers/internal/common/logger"
	"pet-health-workers/internal/common/observability"
	"pet-health-workers/internal/models"

	bhp "pet-health-workers/internal/workers/pet-health/build-health-prompt"
	ga "pet-health-workers/internal/workers/pet-health/generate-assessment"
	no "pet-health-workers/internal/workers/pet-health/notify-owner"
	ser "pet-health-workers/internal/workers/pet-health/save-evaluation-record"
	um "pet-health-workers/internal/workers/pet-health/upload-media"
)

var (
	camundaClient *camunda.Client
	zapLog        *zap.Logger
)

func TestMain(m *testing.M) {
	var err error

	camundaClient, err = camunda.NewClientWithConfig(camunda.ClientConfigFrom(config.CamundaConfig{
		BrokerAddress:  envOr("ZEEBE_ADDRESS", "localhost:26500"),
		Plaintext:      true,
		RequestTimeout: 30000,
	}))
	if err != nil {
		panic("failed to connect to Zeebe: " + err.Error())
	}

	zapLog, _ = zap.NewDevelopment()

	code := m.Run()

	camundaClient.Close()
	os.Exit(code)
}

// fakeGemini answers generateContent with a fixed reply once the first key has
// been rejected, which forces one credential rotation per evaluation.
type fakeGemini struct {
	server   *httptest.Server
	rejected atomic.Int32
	served   atomic.Int32
}

func newFakeGemini(t *testing.T, reply string) *fakeGemini {
	f := &fakeGemini{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-goog-api-key") == "exhausted-key" {
			f.rejected.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota"}}`))
			return
		}
		f.served.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{"parts": []map[string]string{{"text": reply}}}},
			},
		})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func TestPetHealthEvaluation_E2E(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// The fake generation server below ignores real keys.
	if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GENAI_API_KEYS") == "" {
		t.Setenv("GENAI_API_KEYS", "unused")
	}
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Database.Postgres.Host = envOr("DB_HOST", cfg.Database.Postgres.Host)
	cfg.Database.Redis.Address = envOr("REDIS_ADDRESS", cfg.Database.Redis.Address)

	t.Log("🔍 Checking service connectivity...")
	require.NoError(t, camundaClient.HealthCheck(ctx), "Zeebe topology request failed")

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	require.NoError(t, err, "PostgreSQL connection failed")
	defer pg.Close()
	require.NoError(t, pg.Ping(ctx))
	require.NoError(t, pg.Migrate(ctx))

	rdb, err := database.NewRedis(cfg.Database.Redis)
	require.NoError(t, err, "Redis connection failed")
	defer rdb.Close()
	require.NoError(t, rdb.Ping(ctx))
	t.Log("✅ Zeebe, PostgreSQL and Redis reachable")

	gemini := newFakeGemini(t, "Your dog appears healthy. Keep up regular vet visits.")

	genCfg := cfg.GenAI
	genCfg.Provider = "gemini"
	genCfg.BaseURL = gemini.server.URL
	genCfg.APIKeys = []string{"exhausted-key", "working-key"}
	genCfg.Retry.MaxAttempts = 2
	genCfg.Rotation.Store = "redis"
	genCfg.Rotation.RedisKey = "e2e:genai:cursor:" + time.Now().Format("150405.000")

	rotator, err := credentials.New(genCfg, rdb.Cmdable())
	require.NoError(t, err)
	generator, err := genai.NewGenerator(genCfg)
	require.NoError(t, err)
	files := genai.NewFileClient(gemini.server.URL, "", 10*time.Second)

	log := logger.NewZapAdapter(zapLog)
	obs := observability.New("pet-health-e2e", config.TracingConfig{}, zapLog)
	defer obs.Shutdown()

	promptHandler, err := bhp.NewHandler(bhp.LoadConfig(), log)
	require.NoError(t, err)

	handlers := map[string]camunda.JobHandler{
		um.TaskType:  um.NewHandler(um.ConfigFrom(cfg.Media), files, rotator, log),
		bhp.TaskType: promptHandler,
		ga.TaskType:  ga.NewHandler(ga.ConfigFrom(genCfg, config.GetWorkerConfig(cfg, ga.TaskType)), generator, rotator, log),
		ser.TaskType: ser.NewHandler(ser.LoadConfig(), pg.GetDB(), nil, log),
		no.TaskType:  no.NewHandler(no.LoadConfig(), nil, nil, log),
	}

	var workers []worker.JobWorker
	for taskType, handler := range handlers {
		workers = append(workers, camunda.StartWorker(camundaClient.GetClient(), taskType,
			config.WorkerConfig{Enabled: true, MaxJobsActive: 2, Timeout: 120000}, handler, obs, zapLog))
	}
	defer func() {
		for _, w := range workers {
			w.Close()
		}
	}()

	t.Log("🏗️ Deploying evaluation process...")
	_, err = camundaClient.DeployProcess(ctx, bpmnPath(t))
	require.NoError(t, err)

	age := 4
	variables := map[string]interface{}{
		"answers": models.AnswerSet{
			Species:     "Dog",
			Eating:      "Yes",
			Elimination: "Yes",
			Age:         &age,
			Grooming:    "Yes",
			Vomiting:    "No",
		},
		"owner":     models.OwnerContact{Name: "Ana", Email: "ana@example.com"},
		"mediaPath": "",
	}

	result := runInstance(ctx, t, camundaClient.GetClient(), variables)

	assert.Equal(t, models.MediaStatusNone, result["mediaStatus"])
	assert.Equal(t, "Your dog appears healthy. Keep up regular vet visits.", result["assessmentText"])
	assert.Equal(t, "reply", result["outcome"])
	assert.Equal(t, "disabled", result["notificationStatus"])

	evaluationID, _ := result["evaluationId"].(string)
	require.NotEmpty(t, evaluationID)

	var stored string
	err = pg.GetDB().QueryRowContext(ctx,
		`SELECT assessment_text FROM pet_evaluations WHERE id = $1`, evaluationID).Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, result["assessmentText"], stored)

	assert.GreaterOrEqual(t, gemini.rejected.Load(), int32(1), "first credential should be rejected")
	assert.Equal(t, int32(1), gemini.served.Load())

	t.Logf("✅ Evaluation %s completed end to end", evaluationID)
}

func TestPetHealthEvaluation_RejectsInvalidAnswers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log := logger.NewZapAdapter(zapLog)
	promptHandler, err := bhp.NewHandler(bhp.LoadConfig(), log)
	require.NoError(t, err)

	_, err = camundaClient.DeployProcess(ctx, bpmnPath(t))
	require.NoError(t, err)

	w := camunda.StartWorker(camundaClient.GetClient(), bhp.TaskType,
		config.WorkerConfig{Enabled: true, MaxJobsActive: 1, Timeout: 30000}, promptHandler, nil, zapLog)
	defer w.Close()

	// upload-media runs first; complete it inline so the instance reaches the prompt.
	uploader := um.NewHandler(um.LoadConfig(), nil, nil, log)
	uw := camunda.StartWorker(camundaClient.GetClient(), um.TaskType,
		config.WorkerConfig{Enabled: true, MaxJobsActive: 1, Timeout: 30000}, uploader, nil, zapLog)
	defer uw.Close()

	result := runInstance(ctx, t, camundaClient.GetClient(), map[string]interface{}{
		"answers":   map[string]interface{}{"species": "Dog"},
		"mediaPath": "",
	})

	assert.Equal(t, "PROMPT_VALIDATION_FAILED", result["errorCode"])
	_, generated := result["assessmentText"]
	assert.False(t, generated)
}

func runInstance(ctx context.Context, t *testing.T, client zbc.Client, variables map[string]interface{}) map[string]interface{} {
	t.Helper()

	cmd, err := client.NewCreateInstanceCommand().
		BPMNProcessId(camunda.EvaluationProcessID).
		LatestVersion().
		VariablesFromMap(variables)
	require.NoError(t, err)

	resp, err := cmd.WithResult().Send(ctx)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.GetVariables()), &out))
	return out
}

func bpmnPath(t *testing.T) string {
	t.Helper()
	for _, p := range []string{
		"configs/bpmn/pet-health-evaluation.bpmn",
		"../../configs/bpmn/pet-health-evaluation.bpmn",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	t.Fatal("pet-health-evaluation.bpmn not found")
	return ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
