// internal/workers/pet-health/generate-assessment/dispatcher_test.go
package generateassessment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pet-health-workers/internal/common/credentials"
	apperrors "pet-health-workers/internal/common/errors"
	"pet-health-workers/internal/common/genai"
	"pet-health-workers/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test doubles
// ==========================

type reply struct {
	text string
	err  error
}

// scriptedGenerator returns replies in order and records the key used for each call.
type scriptedGenerator struct {
	mu       sync.Mutex
	replies  []reply
	keys     []string
	requests []genai.Request
}

func (g *scriptedGenerator) GenerateContent(_ context.Context, apiKey string, req genai.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys = append(g.keys, apiKey)
	g.requests = append(g.requests, req)
	if len(g.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r.text, r.err
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}

type failingRotator struct {
	credentials.Rotator
	currentErr error
	rotateErr  error
}

func (r *failingRotator) Current(ctx context.Context) (int, string, error) {
	if r.currentErr != nil {
		return 0, "", r.currentErr
	}
	return r.Rotator.Current(ctx)
}

func (r *failingRotator) Rotate(ctx context.Context, from int) (int, error) {
	if r.rotateErr != nil {
		return 0, r.rotateErr
	}
	return r.Rotator.Rotate(ctx, from)
}

// barrierGenerator holds every call made with the first key until all
// dispatchers have arrived, then fails them together.
type barrierGenerator struct {
	arrived sync.WaitGroup
	mu      sync.Mutex
	keys    []string
}

func (g *barrierGenerator) GenerateContent(_ context.Context, apiKey string, _ genai.Request) (string, error) {
	g.mu.Lock()
	g.keys = append(g.keys, apiKey)
	g.mu.Unlock()
	if apiKey == "key-a" {
		g.arrived.Done()
		g.arrived.Wait()
		return "", errors.New("429 quota exceeded")
	}
	return "reply via " + apiKey, nil
}

// newKeyedGemini serves generateContent, hanging on the "slow-key" credential
// until the caller gives up.
func newKeyedGemini(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") == "slow-key" {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{"parts": []map[string]string{{"text": "fast reply"}}}},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newPool(t *testing.T, keys ...string) *credentials.Pool {
	pool, err := credentials.NewPool(keys)
	require.NoError(t, err)
	return pool
}

func newTestDispatcher(t *testing.T, gen genai.Generator, rotator credentials.Rotator, policy RetryPolicy) *Dispatcher {
	return NewDispatcher(gen, rotator, policy, "test", logger.NewTestLogger(t))
}

var english = SentinelsFor("en")

// ==========================
// Outcome tests
// ==========================

func TestDispatch_FirstAttemptSucceeds(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: "  Your cat looks healthy.\n"}}}
	pool := newPool(t, "key-a", "key-b")
	d := newTestDispatcher(t, gen, pool, DefaultRetryPolicy())

	result := d.DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, english)

	assert.Equal(t, "Your cat looks healthy.", result.Text)
	assert.Equal(t, OutcomeReply, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 0, result.Rotations)
	assert.Equal(t, []string{"key-a"}, gen.keys)

	index, _, err := pool.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, index)
}

func TestDispatch_RetryUsesNextCredential(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{
		{err: errors.New("quota exceeded")},
		{text: "Second opinion."},
	}}
	pool := newPool(t, "key-a", "key-b", "key-c")
	d := newTestDispatcher(t, gen, pool, DefaultRetryPolicy())

	result := d.DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, english)

	assert.Equal(t, "Second opinion.", result.Text)
	assert.Equal(t, OutcomeReply, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 1, result.Rotations)
	assert.Equal(t, 1, result.CredentialIndex)
	assert.Equal(t, []string{"key-a", "key-b"}, gen.keys)

	// the cursor advanced by exactly one
	index, key, err := pool.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, index)
	assert.Equal(t, "key-b", key)
}

func TestDispatch_AllAttemptsFail(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{
		{err: errors.New("boom")},
		{err: errors.New("boom again")},
	}}
	d := newTestDispatcher(t, gen, newPool(t, "key-a", "key-b"), DefaultRetryPolicy())

	text := d.Dispatch(context.Background(), "p")

	assert.Equal(t, "Error processing the request.", text)
	assert.Equal(t, 2, gen.calls())
}

func TestDispatch_EmptyReplies(t *testing.T) {
	tests := []struct {
		name     string
		replies  []reply
		wantText string
		outcome  string
		attempts int
	}{
		{
			name:     "empty first reply",
			replies:  []reply{{text: ""}},
			wantText: "No response.",
			outcome:  OutcomeNoResponse,
			attempts: 1,
		},
		{
			name:     "whitespace first reply",
			replies:  []reply{{text: " \n\t "}},
			wantText: "No response.",
			outcome:  OutcomeNoResponse,
			attempts: 1,
		},
		{
			name:     "empty reply on retry",
			replies:  []reply{{err: errors.New("503")}, {text: ""}},
			wantText: "Error processing the request.",
			outcome:  OutcomeProcessingError,
			attempts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scriptedGenerator{replies: tt.replies}
			d := newTestDispatcher(t, gen, newPool(t, "key-a", "key-b"), DefaultRetryPolicy())

			result := d.DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, english)

			assert.Equal(t, tt.wantText, result.Text)
			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, tt.attempts, result.Attempts)
			assert.Equal(t, tt.attempts, gen.calls())
		})
	}
}

func TestDispatch_SpanishSentinels(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: ""}}}
	d := newTestDispatcher(t, gen, newPool(t, "k"), DefaultRetryPolicy())

	result := d.DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, SentinelsFor("es"))
	assert.Equal(t, "Sin respuesta.", result.Text)

	gen = &scriptedGenerator{replies: []reply{{err: errors.New("x")}, {err: errors.New("y")}}}
	d = newTestDispatcher(t, gen, newPool(t, "k"), DefaultRetryPolicy())

	result = d.DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, SentinelsFor("ES"))
	assert.Equal(t, "Error al procesar la solicitud.", result.Text)
}

// ==========================
// Policy tests
// ==========================

func TestDispatch_SingleAttemptNeverRotates(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{err: errors.New("boom")}}}
	pool := newPool(t, "key-a", "key-b")
	d := newTestDispatcher(t, gen, pool, RetryPolicy{MaxAttempts: 1})

	result := d.DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, english)

	assert.Equal(t, OutcomeProcessingError, result.Outcome)
	assert.Equal(t, 0, result.Rotations)

	index, _, err := pool.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, index)
}

func TestDispatch_ZeroAttemptsTreatedAsOne(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: "ok"}}}
	d := newTestDispatcher(t, gen, newPool(t, "k"), RetryPolicy{})

	assert.Equal(t, "ok", d.Dispatch(context.Background(), "p"))
}

func TestDispatch_ThreeAttemptsWrapThePool(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{
		{err: errors.New("1")},
		{err: errors.New("2")},
		{text: "third time"},
	}}
	pool := newPool(t, "key-a", "key-b")
	d := newTestDispatcher(t, gen, pool, RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	})

	result := d.DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, english)

	assert.Equal(t, "third time", result.Text)
	assert.Equal(t, 2, result.Rotations)
	assert.Equal(t, []string{"key-a", "key-b", "key-a"}, gen.keys)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}

	assert.Equal(t, time.Duration(0), p.backoff(1))
	assert.Equal(t, 100*time.Millisecond, p.backoff(2))
	assert.Equal(t, 200*time.Millisecond, p.backoff(3))
	assert.Equal(t, 300*time.Millisecond, p.backoff(4))
	assert.Equal(t, time.Duration(0), RetryPolicy{MaxAttempts: 3}.backoff(2))
}

func TestDispatch_CancelledDuringBackoff(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{err: errors.New("boom")}, {text: "late"}}}
	d := newTestDispatcher(t, gen, newPool(t, "a", "b"), RetryPolicy{
		MaxAttempts: 2,
		BaseBackoff: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := d.DispatchRequest(ctx, genai.Request{Prompt: "p"}, english)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, OutcomeProcessingError, result.Outcome)
	assert.Equal(t, 1, gen.calls())
}

// ==========================
// Credential store failures
// ==========================

func TestDispatch_CurrentFailureCountsAsAttempt(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: "unused"}}}
	rotator := &failingRotator{Rotator: newPool(t, "a", "b"), currentErr: errors.New("redis down")}
	d := newTestDispatcher(t, gen, rotator, DefaultRetryPolicy())

	result := d.DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, english)

	assert.Equal(t, OutcomeProcessingError, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 0, result.Rotations)
	assert.Equal(t, 0, gen.calls())
}

func TestDispatch_RotateFailureStillRetries(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{err: errors.New("boom")}, {text: "same key"}}}
	rotator := &failingRotator{Rotator: newPool(t, "a", "b"), rotateErr: errors.New("redis down")}
	d := newTestDispatcher(t, gen, rotator, DefaultRetryPolicy())

	result := d.DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, english)

	assert.Equal(t, "same key", result.Text)
	assert.Equal(t, 0, result.Rotations)
	assert.Equal(t, []string{"a", "a"}, gen.keys)
}

func TestDispatch_SharedRedisCursor(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	replicaA, err := credentials.NewRedisPool(client, "", []string{"a", "b", "c"})
	require.NoError(t, err)
	replicaB, err := credentials.NewRedisPool(client, "", []string{"a", "b", "c"})
	require.NoError(t, err)

	genA := &scriptedGenerator{replies: []reply{{err: errors.New("429")}, {text: "from b"}}}
	resultA := newTestDispatcher(t, genA, replicaA, DefaultRetryPolicy()).
		DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, english)
	assert.Equal(t, "from b", resultA.Text)

	// the second replica starts where the first one left the cursor
	genB := &scriptedGenerator{replies: []reply{{text: "still b"}}}
	resultB := newTestDispatcher(t, genB, replicaB, DefaultRetryPolicy()).
		DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, english)
	assert.Equal(t, "still b", resultB.Text)
	assert.Equal(t, []string{"b"}, genB.keys)
}

func TestDispatch_MediaPassedThrough(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: "seen"}}}
	d := newTestDispatcher(t, gen, newPool(t, "k"), DefaultRetryPolicy())

	media := &genai.FileRef{URI: "https://files.example/v1", MimeType: "video/mp4"}
	d.DispatchRequest(context.Background(), genai.Request{Prompt: "p", Media: media}, english)

	require.Len(t, gen.requests, 1)
	assert.Equal(t, media, gen.requests[0].Media)
}

// ==========================
// Deadlines
// ==========================

func TestDispatch_SlowFirstCredentialLeavesTimeForRetry(t *testing.T) {
	server := newKeyedGemini(t)
	gen := genai.NewGeminiClient(server.URL, "gemini-2.0-flash", genai.GenerationConfig{}, 10*time.Second)
	pool := newPool(t, "slow-key", "fast-key")
	d := newTestDispatcher(t, gen, pool, RetryPolicy{
		MaxAttempts:    2,
		AttemptTimeout: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	result := d.DispatchRequest(ctx, genai.Request{Prompt: "p"}, english)

	assert.Equal(t, "fast reply", result.Text)
	assert.Equal(t, OutcomeReply, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 1, result.CredentialIndex)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatch_AttemptsShareCallerDeadline(t *testing.T) {
	server := newKeyedGemini(t)
	gen := genai.NewGeminiClient(server.URL, "gemini-2.0-flash", genai.GenerationConfig{}, 10*time.Second)
	d := newTestDispatcher(t, gen, newPool(t, "slow-key", "fast-key"), RetryPolicy{MaxAttempts: 2})

	// no per-attempt timeout: the first attempt may use only half the budget
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	result := d.DispatchRequest(ctx, genai.Request{Prompt: "p"}, english)

	assert.Equal(t, "fast reply", result.Text)
	assert.Equal(t, 2, result.Attempts)
}

// ==========================
// Concurrent rotation
// ==========================

func TestDispatch_ConcurrentFailuresRotateOnce(t *testing.T) {
	const dispatchers = 4
	gen := &barrierGenerator{}
	gen.arrived.Add(dispatchers)
	pool := newPool(t, "key-a", "key-b", "key-c")

	results := make([]DispatchResult, dispatchers)
	var wg sync.WaitGroup
	for i := 0; i < dispatchers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := newTestDispatcher(t, gen, pool, DefaultRetryPolicy())
			results[i] = d.DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, english)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "reply via key-b", r.Text)
		assert.Equal(t, 1, r.CredentialIndex)
	}

	index, _, err := pool.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, index, "cursor must advance once for one failed credential")
}

func TestDispatch_ConcurrentFailuresRotateOnceAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	const replicas = 3
	gen := &barrierGenerator{}
	gen.arrived.Add(replicas)

	var wg sync.WaitGroup
	for i := 0; i < replicas; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool, err := credentials.NewRedisPool(client, "race:cursor", []string{"key-a", "key-b", "key-c"})
			if !assert.NoError(t, err) {
				return
			}
			result := newTestDispatcher(t, gen, pool, DefaultRetryPolicy()).
				DispatchRequest(context.Background(), genai.Request{Prompt: "p"}, english)
			assert.Equal(t, "reply via key-b", result.Text)
		}()
	}
	wg.Wait()

	val, err := mr.Get("race:cursor")
	require.NoError(t, err)
	assert.Equal(t, "1", val)
}

func TestDispatch_GenerateClassifiesFailures(t *testing.T) {
	server := newKeyedGemini(t)
	gen := genai.NewGeminiClient(server.URL, "gemini-2.0-flash", genai.GenerationConfig{}, 10*time.Second)
	d := newTestDispatcher(t, gen, newPool(t, "slow-key"), RetryPolicy{
		MaxAttempts:    1,
		AttemptTimeout: 50 * time.Millisecond,
	})

	_, err := d.generate(context.Background(), 1, "slow-key", genai.Request{Prompt: "p"})
	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeGenerationTimeout, stdErr.Code)

	failing := newTestDispatcher(t, &scriptedGenerator{replies: []reply{{err: errors.New("quota")}}},
		newPool(t, "k"), DefaultRetryPolicy())
	_, err = failing.generate(context.Background(), 1, "k", genai.Request{Prompt: "p"})
	stdErr, ok = apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeGenerationFailed, stdErr.Code)
	assert.Equal(t, "quota", stdErr.Details)
}
