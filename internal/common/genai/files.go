// internal/common/genai/files.go
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	commonhttp "pet-health-workers/internal/common/http"
)

const (
	FileStateProcessing = "PROCESSING"
	FileStateActive     = "ACTIVE"
	FileStateFailed     = "FAILED"
)

var (
	ErrMediaProcessingFailed = errors.New("MEDIA_PROCESSING_FAILED")
	ErrMediaTimeout          = errors.New("MEDIA_TIMEOUT")
)

// File is the remote handle returned by the hosted file service.
type File struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	MimeType    string `json:"mimeType"`
	URI         string `json:"uri"`
	State       string `json:"state"`
}

// Ref returns the reference used to attach the file to a generation request.
func (f *File) Ref() *FileRef {
	return &FileRef{URI: f.URI, MimeType: f.MimeType}
}

// PollPolicy bounds WaitForActive. Zero MaxPolls means only the context deadline applies.
type PollPolicy struct {
	Interval time.Duration
	MaxPolls int
}

// FileClient uploads media to the Gemini Files API and polls its state.
type FileClient struct {
	http      *commonhttp.Client
	baseURL   string
	uploadURL string
}

func NewFileClient(baseURL, uploadURL string, timeout time.Duration) *FileClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if uploadURL == "" {
		uploadURL = baseURL
	}
	return &FileClient{
		http:      commonhttp.NewClient(timeout),
		baseURL:   strings.TrimRight(baseURL, "/"),
		uploadURL: strings.TrimRight(uploadURL, "/"),
	}
}

// Upload sends the file at path as a multipart/related upload.
func (c *FileClient) Upload(ctx context.Context, apiKey, path, mimeType, displayName string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	if displayName == "" {
		displayName = filepath.Base(path)
	}
	return c.UploadReader(ctx, apiKey, f, mimeType, displayName)
}

func (c *FileClient) UploadReader(ctx context.Context, apiKey string, r io.Reader, mimeType, displayName string) (*File, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := mw.CreatePart(metaHeader)
	if err != nil {
		return nil, fmt.Errorf("create metadata part: %w", err)
	}
	meta := map[string]interface{}{"file": map[string]string{"displayName": displayName}}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	dataHeader := textproto.MIMEHeader{}
	dataHeader.Set("Content-Type", mimeType)
	dataPart, err := mw.CreatePart(dataHeader)
	if err != nil {
		return nil, fmt.Errorf("create media part: %w", err)
	}
	if _, err := io.Copy(dataPart, r); err != nil {
		return nil, fmt.Errorf("copy media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	endpoint := c.uploadURL + "/upload/v1beta/files?uploadType=multipart"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())
	req.Header.Set("X-Goog-Upload-Protocol", "multipart")
	req.Header.Set(APIKeyHeader, apiKey)

	var resp struct {
		File File `json:"file"`
	}
	if err := c.http.DoRaw(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}
	return &resp.File, nil
}

// Get fetches the current state of a remote file, name being "files/<id>".
func (c *FileClient) Get(ctx context.Context, apiKey, name string) (*File, error) {
	endpoint := fmt.Sprintf("%s/v1beta/%s", c.baseURL, name)

	var file File
	if err := c.http.DoJSON(ctx, http.MethodGet, endpoint, map[string]string{APIKeyHeader: apiKey}, nil, &file); err != nil {
		return nil, fmt.Errorf("get file %s: %w", name, err)
	}
	return &file, nil
}

// WaitForActive polls until the file leaves PROCESSING. ACTIVE returns the file,
// any other state returns ErrMediaProcessingFailed, and running out of polls or
// hitting the context deadline returns ErrMediaTimeout.
func (c *FileClient) WaitForActive(ctx context.Context, apiKey string, file *File, policy PollPolicy) (*File, error) {
	current := file
	for polls := 0; ; polls++ {
		switch current.State {
		case FileStateActive:
			return current, nil
		case FileStateProcessing, "":
		default:
			return current, fmt.Errorf("%w: %s is %s", ErrMediaProcessingFailed, current.Name, current.State)
		}

		if policy.MaxPolls > 0 && polls >= policy.MaxPolls {
			return current, fmt.Errorf("%w: %s still processing after %d polls", ErrMediaTimeout, current.Name, polls)
		}

		timer := time.NewTimer(policy.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return current, fmt.Errorf("%w: %s: %v", ErrMediaTimeout, current.Name, ctx.Err())
		case <-timer.C:
		}

		next, err := c.Get(ctx, apiKey, current.Name)
		if err != nil {
			if ctx.Err() != nil {
				return current, fmt.Errorf("%w: %s: %v", ErrMediaTimeout, current.Name, ctx.Err())
			}
			return current, err
		}
		current = next
	}
}
