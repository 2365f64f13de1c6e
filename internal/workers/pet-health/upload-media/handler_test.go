// internal/workers/pet-health/upload-media/handler_test.go
package uploadmedia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pet-health-workers/internal/common/config"
	"pet-health-workers/internal/common/credentials"
	apperrors "pet-health-workers/internal/common/errors"
	"pet-health-workers/internal/common/genai"
	"pet-health-workers/internal/common/logger"
	"pet-health-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test doubles
// ==========================

type fakeFiles struct {
	uploadErr  error
	uploaded   *genai.File
	waitResult *genai.File
	waitErr    error

	uploadKey  string
	uploadMime string
	uploadName string
}

func (f *fakeFiles) Upload(_ context.Context, apiKey, _, mimeType, displayName string) (*genai.File, error) {
	f.uploadKey, f.uploadMime, f.uploadName = apiKey, mimeType, displayName
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return f.uploaded, nil
}

func (f *fakeFiles) WaitForActive(_ context.Context, _ string, file *genai.File, _ genai.PollPolicy) (*genai.File, error) {
	if f.waitErr != nil {
		return file, f.waitErr
	}
	if f.waitResult != nil {
		return f.waitResult, nil
	}
	return file, nil
}

func writeMedia(t *testing.T, name string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("fake video bytes"), 0o600))
	return path
}

func newTestHandler(t *testing.T, files FileService) *Handler {
	pool, err := credentials.NewPool([]string{"key-a", "key-b"})
	require.NoError(t, err)
	return NewHandler(LoadConfig(), files, pool, logger.NewTestLogger(t))
}

// ==========================
// Execute
// ==========================

func TestExecute_NoMedia(t *testing.T) {
	h := newTestHandler(t, &fakeFiles{})

	output, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, models.MediaStatusNone, output.MediaStatus)
	assert.Nil(t, output.Media)
}

func TestExecute_Attached(t *testing.T) {
	files := &fakeFiles{
		uploaded:   &genai.File{Name: "files/abc", State: genai.FileStateProcessing},
		waitResult: &genai.File{Name: "files/abc", URI: "https://files.example/abc", MimeType: "video/quicktime", State: genai.FileStateActive},
	}
	h := newTestHandler(t, files)
	path := writeMedia(t, "Rex.MOV")

	output, err := h.Execute(context.Background(), &Input{MediaPath: path})
	require.NoError(t, err)

	assert.Equal(t, models.MediaStatusAttached, output.MediaStatus)
	require.NotNil(t, output.Media)
	assert.Equal(t, "Rex.MOV", output.Media.DisplayName)
	assert.Equal(t, "https://files.example/abc", output.Media.URI)
	assert.Equal(t, "video/quicktime", output.Media.MimeType)
	assert.Equal(t, "video/quicktime", files.uploadMime)
	assert.Equal(t, "key-a", files.uploadKey)
}

func TestExecute_Degraded(t *testing.T) {
	tests := []struct {
		name   string
		input  func(t *testing.T) *Input
		files  *fakeFiles
		status string
		errMsg string
	}{
		{
			name:   "unknown extension",
			input:  func(t *testing.T) *Input { return &Input{MediaPath: writeMedia(t, "notes.txt")} },
			files:  &fakeFiles{},
			status: models.MediaStatusRejected,
			errMsg: "UNSUPPORTED_MEDIA_TYPE",
		},
		{
			name: "explicit type not allowed",
			input: func(t *testing.T) *Input {
				return &Input{MediaPath: writeMedia(t, "clip.mp4"), MimeType: "image/png"}
			},
			files:  &fakeFiles{},
			status: models.MediaStatusRejected,
			errMsg: "image/png",
		},
		{
			name:   "missing file",
			input:  func(t *testing.T) *Input { return &Input{MediaPath: "/does/not/exist.mp4"} },
			files:  &fakeFiles{},
			status: models.MediaStatusFailed,
			errMsg: "MEDIA_NOT_FOUND",
		},
		{
			name:  "processing failed",
			input: func(t *testing.T) *Input { return &Input{MediaPath: writeMedia(t, "clip.avi")} },
			files: &fakeFiles{
				uploaded: &genai.File{Name: "files/x", State: genai.FileStateProcessing},
				waitErr:  fmt.Errorf("%w: files/x is FAILED", genai.ErrMediaProcessingFailed),
			},
			status: models.MediaStatusFailed,
			errMsg: "MEDIA_PROCESSING_FAILED",
		},
		{
			name:  "poll timed out",
			input: func(t *testing.T) *Input { return &Input{MediaPath: writeMedia(t, "clip.mp4")} },
			files: &fakeFiles{
				uploaded: &genai.File{Name: "files/x", State: genai.FileStateProcessing},
				waitErr:  fmt.Errorf("%w: files/x still processing", genai.ErrMediaTimeout),
			},
			status: models.MediaStatusTimeout,
			errMsg: "MEDIA_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.files)

			output, err := h.Execute(context.Background(), tt.input(t))
			require.NoError(t, err)
			assert.Equal(t, tt.status, output.MediaStatus)
			assert.Nil(t, output.Media)
			assert.Contains(t, output.MediaError, tt.errMsg)
		})
	}
}

func TestExecute_DegradedMediaCarriesErrorCode(t *testing.T) {
	h := newTestHandler(t, &fakeFiles{})
	output, err := h.Execute(context.Background(), &Input{MediaPath: writeMedia(t, "clip.mp4"), MimeType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE: mimeType: image/png", output.MediaError)

	h = newTestHandler(t, &fakeFiles{
		uploaded: &genai.File{Name: "files/x", State: genai.FileStateProcessing},
		waitErr:  fmt.Errorf("%w: files/x is FAILED", genai.ErrMediaProcessingFailed),
	})
	output, err = h.Execute(context.Background(), &Input{MediaPath: writeMedia(t, "clip.mp4")})
	require.NoError(t, err)
	assert.Equal(t, "MEDIA_PROCESSING_FAILED: file: files/x, state: FAILED", output.MediaError)

	h = newTestHandler(t, &fakeFiles{
		uploaded: &genai.File{Name: "files/y", State: genai.FileStateProcessing},
		waitErr:  fmt.Errorf("%w: files/y still processing", genai.ErrMediaTimeout),
	})
	output, err = h.Execute(context.Background(), &Input{MediaPath: writeMedia(t, "clip.mp4")})
	require.NoError(t, err)
	assert.Equal(t, "MEDIA_TIMEOUT: file: files/y, polls: 30", output.MediaError)
}

func TestExecute_UploadFailureIsRetryable(t *testing.T) {
	h := newTestHandler(t, &fakeFiles{uploadErr: errors.New("connection reset")})

	_, err := h.Execute(context.Background(), &Input{MediaPath: writeMedia(t, "clip.mp4")})
	require.Error(t, err)

	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeMediaUploadFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}

// ==========================
// Against the file service API
// ==========================

func TestExecute_FileServiceRoundTrip(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/v1beta/files"):
			assert.Equal(t, "key-a", r.Header.Get("x-goog-api-key"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"file": genai.File{Name: "files/rex", MimeType: "video/mp4", State: genai.FileStateProcessing},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1beta/files/rex":
			state := genai.FileStateProcessing
			if atomic.AddInt32(&polls, 1) >= 2 {
				state = genai.FileStateActive
			}
			_ = json.NewEncoder(w).Encode(genai.File{
				Name: "files/rex", URI: "https://files.example/rex", MimeType: "video/mp4", State: state,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cfg := LoadConfig()
	cfg.Poll = genai.PollPolicy{Interval: time.Millisecond, MaxPolls: 5}
	pool, err := credentials.NewPool([]string{"key-a"})
	require.NoError(t, err)
	h := NewHandler(cfg, genai.NewFileClient(server.URL, server.URL, 5*time.Second), pool, logger.NewTestLogger(t))

	output, err := h.Execute(context.Background(), &Input{MediaPath: writeMedia(t, "rex.mp4"), DisplayName: "Rex"})
	require.NoError(t, err)

	assert.Equal(t, models.MediaStatusAttached, output.MediaStatus)
	assert.Equal(t, "https://files.example/rex", output.Media.URI)
	assert.Equal(t, "Rex", output.Media.DisplayName)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.MediaConfig{PollInterval: 250, MaxPolls: 4, Timeout: 60000})

	assert.Equal(t, 250*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, 4, cfg.Poll.MaxPolls)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.Len(t, cfg.AllowedTypes, 3)
}
