package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "github.com/accountd/accountd/internal/config"
)

// ---------------------------------------------------------------------------
// New() — constructor validation (no AWS connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	cfg := &appconfig.S3StorageConfig{
		Bucket: "",
		Region: "us-east-1",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_MissingRegion(t *testing.T) {
	cfg := &appconfig.S3StorageConfig{
		Bucket: "my-bucket",
		Region: "",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for missing region")
	}
}

func TestNew_StaticAuth_MissingKeys(t *testing.T) {
	cfg := &appconfig.S3StorageConfig{
		Bucket:      "my-bucket",
		Region:      "us-east-1",
		AuthMethod:  "static",
		AccessKeyID: "", // missing
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for static auth with missing keys")
	}
}

func TestNew_UnsupportedAuthMethod(t *testing.T) {
	cfg := &appconfig.S3StorageConfig{
		Bucket:     "my-bucket",
		Region:     "us-east-1",
		AuthMethod: "unsupported-method",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for unsupported auth method")
	}
}

func TestNew_DefaultAuth_LoadsConfig(t *testing.T) {
	// default auth tries to load AWS config (env vars, shared config, etc.)
	// In CI without AWS credentials, this may fail or succeed with no-op
	// credentials. We just ensure no panic and correct handling.
	cfg := &appconfig.S3StorageConfig{
		Bucket:     "my-bucket",
		Region:     "us-east-1",
		AuthMethod: "default",
	}
	_, _ = New(cfg)
}

func TestNew_ImplicitStaticAuth(t *testing.T) {
	// Keys present with no auth_method should select static auth.
	cfg := &appconfig.S3StorageConfig{
		Bucket:          "my-bucket",
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s == nil {
		t.Error("New() returned nil storage")
	}
}

func TestNew_StaticAuth_WithEndpoint(t *testing.T) {
	cfg := &appconfig.S3StorageConfig{
		Bucket:          "my-bucket",
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://localhost:9000",
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() with custom endpoint error: %v", err)
	}
	if s == nil {
		t.Error("New() returned nil storage")
	}
}

// ---------------------------------------------------------------------------
// Mock S3-compatible HTTP server for operations tests
// ---------------------------------------------------------------------------

type s3MockStore struct {
	mu           sync.Mutex
	objects      map[string][]byte            // key -> content
	meta         map[string]map[string]string // key -> amz-meta headers (lowercase, no prefix)
	contentTypes map[string]string            // key -> Content-Type as uploaded
}

// newS3TestStorage creates an S3Storage backed by a minimal mock HTTP server.
// The server speaks just enough of the S3 REST API (path-style) for CRUD tests.
func newS3TestStorage(t *testing.T) (*S3Storage, *s3MockStore) {
	t.Helper()

	ms := &s3MockStore{
		objects:      map[string][]byte{},
		meta:         map[string]map[string]string{},
		contentTypes: map[string]string{},
	}

	const bucket = "test-bucket"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")

		idx := strings.IndexByte(path, '/')
		if idx < 0 {
			// Bucket-level operation
			w.WriteHeader(http.StatusOK)
			return
		}

		key := path[idx+1:] // everything after "test-bucket/"

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			meta := map[string]string{}
			for hk, hv := range r.Header {
				lk := strings.ToLower(hk)
				if strings.HasPrefix(lk, "x-amz-meta-") && len(hv) > 0 {
					meta[strings.TrimPrefix(lk, "x-amz-meta-")] = hv[0]
				}
			}
			ms.mu.Lock()
			ms.objects[key] = data
			ms.meta[key] = meta
			ms.contentTypes[key] = r.Header.Get("Content-Type")
			ms.mu.Unlock()
			w.Header().Set("ETag", `"test-etag"`)
			w.WriteHeader(http.StatusOK)

		case http.MethodGet:
			ms.mu.Lock()
			data, ok := ms.objects[key]
			ms.mu.Unlock()
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprintf(w, `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.Header().Set("ETag", `"test-etag"`)
			w.WriteHeader(http.StatusOK)
			w.Write(data)

		case http.MethodHead:
			ms.mu.Lock()
			data, ok := ms.objects[key]
			metaMap := ms.meta[key]
			contentType := ms.contentTypes[key]
			ms.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.Header().Set("Last-Modified", time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"))
			w.Header().Set("ETag", `"test-etag"`)
			if contentType != "" {
				w.Header().Set("Content-Type", contentType)
			}
			for mk, mv := range metaMap {
				w.Header().Set("x-amz-meta-"+mk, mv)
			}
			w.WriteHeader(http.StatusOK)

		case http.MethodDelete:
			ms.mu.Lock()
			delete(ms.objects, key)
			delete(ms.meta, key)
			ms.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          bucket,
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatalf("New() for mock S3: %v", err)
	}

	return s, ms
}

// ---------------------------------------------------------------------------
// Upload
// ---------------------------------------------------------------------------

func TestS3_Upload(t *testing.T) {
	s, ms := newS3TestStorage(t)

	data := []byte("avatar image bytes")
	result, err := s.Upload(context.Background(), "avatars/u1.png", bytes.NewReader(data), int64(len(data)), "image/png")
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if result.Path != "avatars/u1.png" {
		t.Errorf("Path = %q, want avatars/u1.png", result.Path)
	}
	if result.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", result.Size, len(data))
	}
	if len(result.Checksum) != 64 {
		t.Errorf("Checksum length = %d, want 64 (SHA256 hex)", len(result.Checksum))
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.contentTypes["avatars/u1.png"] != "image/png" {
		t.Errorf("stored Content-Type = %q, want image/png", ms.contentTypes["avatars/u1.png"])
	}
	if ms.meta["avatars/u1.png"]["sha256"] != result.Checksum {
		t.Error("sha256 metadata should carry the upload checksum")
	}
}

func TestS3_Upload_ChecksumConsistency(t *testing.T) {
	s, _ := newS3TestStorage(t)

	content := "consistent data for checksum"
	r1, _ := s.Upload(context.Background(), "c1.png", strings.NewReader(content), int64(len(content)), "image/png")
	r2, _ := s.Upload(context.Background(), "c2.png", strings.NewReader(content), int64(len(content)), "image/png")
	if r1.Checksum != r2.Checksum {
		t.Errorf("same content produced different checksums: %q vs %q", r1.Checksum, r2.Checksum)
	}
}

// ---------------------------------------------------------------------------
// Download
// ---------------------------------------------------------------------------

func TestS3_Download(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	want := []byte("download me from s3")
	if _, err := s.Upload(ctx, "dl.png", bytes.NewReader(want), int64(len(want)), "image/png"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	rc, err := s.Download(ctx, "dl.png")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()

	if !bytes.Equal(got, want) {
		t.Errorf("Download content = %q, want %q", got, want)
	}
}

func TestS3_Download_NotFound(t *testing.T) {
	s, _ := newS3TestStorage(t)

	_, err := s.Download(context.Background(), "nonexistent.png")
	if err == nil {
		t.Error("Download() expected error for missing key, got nil")
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestS3_Delete(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	data := []byte("to be deleted")
	if _, err := s.Upload(ctx, "todel.png", bytes.NewReader(data), int64(len(data)), "image/png"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := s.Delete(ctx, "todel.png"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	ok, _ := s.Exists(ctx, "todel.png")
	if ok {
		t.Error("Exists = true after delete, want false")
	}
}

// ---------------------------------------------------------------------------
// Exists
// ---------------------------------------------------------------------------

func TestS3_Exists_False(t *testing.T) {
	s, _ := newS3TestStorage(t)

	ok, err := s.Exists(context.Background(), "ghost.png")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if ok {
		t.Error("Exists = true for nonexistent key, want false")
	}
}

func TestS3_Exists_True(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	if _, err := s.Upload(ctx, "exists.png", strings.NewReader("x"), 1, "image/png"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	ok, err := s.Exists(ctx, "exists.png")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if !ok {
		t.Error("Exists = false for existing key, want true")
	}
}

// ---------------------------------------------------------------------------
// GetMetadata
// ---------------------------------------------------------------------------

func TestS3_GetMetadata_WithChecksum(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	data := []byte("metadata content")
	uploadResult, err := s.Upload(ctx, "meta.png", bytes.NewReader(data), int64(len(data)), "image/png")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	meta, err := s.GetMetadata(ctx, "meta.png")
	if err != nil {
		t.Fatalf("GetMetadata() error: %v", err)
	}
	if meta.Path != "meta.png" {
		t.Errorf("Path = %q, want meta.png", meta.Path)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(data))
	}
	if meta.Checksum != uploadResult.Checksum {
		t.Errorf("Checksum = %q, want the stored sha256 %q", meta.Checksum, uploadResult.Checksum)
	}
}

func TestS3_GetMetadata_NotFound(t *testing.T) {
	s, _ := newS3TestStorage(t)

	_, err := s.GetMetadata(context.Background(), "missing.png")
	if err == nil {
		t.Error("GetMetadata() expected error for missing key, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetURL
// ---------------------------------------------------------------------------

func TestS3_GetURL_NotFound(t *testing.T) {
	s, _ := newS3TestStorage(t)

	_, err := s.GetURL(context.Background(), "missing.png", time.Hour)
	if err == nil {
		t.Error("GetURL() expected error for missing key, got nil")
	}
}

func TestS3_GetURL_Success(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	if _, err := s.Upload(ctx, "forurl.png", strings.NewReader("content"), 7, "image/png"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	url, err := s.GetURL(ctx, "forurl.png", time.Hour)
	if err != nil {
		t.Fatalf("GetURL() error: %v", err)
	}
	if !strings.Contains(url, "forurl.png") {
		t.Errorf("GetURL() = %q, want a presigned URL for the key", url)
	}
	if !strings.Contains(url, "X-Amz-Signature") {
		t.Errorf("GetURL() = %q, want a signed URL", url)
	}
}
