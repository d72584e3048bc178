// Package artifacts stores scraper debug snapshots (page HTML and
// screenshots) either in a Supabase bucket or under DATA_DIR.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pricecompare/internal/config"
	"pricecompare/internal/logger"

	"github.com/antoineross/supabase-go"
	storage_go "github.com/supabase-community/storage-go"
)

// Sink persists one artifact and returns where it can be fetched from.
type Sink interface {
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// New picks the sink for cfg. Production requires Supabase; elsewhere the
// local directory is used when Supabase is not configured.
func New(cfg config.Config) (Sink, error) {
	supabaseReady := cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" && cfg.SupabaseBucket != ""
	if cfg.AppEnv == "production" && !supabaseReady {
		return nil, fmt.Errorf("production environment requires Supabase configuration: NEXT_PUBLIC_SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY, and SUPABASE_STORAGE_BUCKET must be set")
	}
	if supabaseReady {
		s, err := NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket)
		if err == nil {
			return s, nil
		}
		if cfg.AppEnv == "production" {
			return nil, fmt.Errorf("failed to initialize Supabase client in production: %w", err)
		}
		logger.New("Artifacts").LogWarnf("failed to initialize Supabase client, using local storage: %v", err)
	}
	return NewLocal(cfg.DataDir), nil
}

// LocalSink writes under <dataDir>/artifacts, which the server exposes at
// /files.
type LocalSink struct {
	dir string
}

func NewLocal(dataDir string) *LocalSink {
	return &LocalSink{dir: filepath.Join(dataDir, "artifacts")}
}

func (s *LocalSink) Save(_ context.Context, name, _ string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", err
	}
	return "/files/artifacts/" + name, nil
}

type SupabaseSink struct {
	client *supabase.Client
	bucket string
	log    *logger.Logger
}

func NewSupabase(url, serviceKey, bucket string) (*SupabaseSink, error) {
	client, err := supabase.NewClient(url, serviceKey, nil)
	if err != nil {
		return nil, err
	}
	return &SupabaseSink{client: client, bucket: bucket, log: logger.New("Artifacts")}, nil
}

// Save uploads to <bucket>/artifacts/<name> and returns the bucket path.
func (s *SupabaseSink) Save(_ context.Context, name, contentType string, data []byte) (string, error) {
	path := "artifacts/" + name
	ct := contentType
	if _, err := s.client.Storage.UploadFile(s.bucket, path, bytes.NewReader(data), storage_go.FileOptions{ContentType: &ct}); err != nil {
		return "", fmt.Errorf("supabase upload %s: %w", path, err)
	}
	s.log.LogDebugf("uploaded %s (%d bytes)", path, len(data))
	return s.bucket + "/" + path, nil
}

// Name builds a timestamped file name for a store/query snapshot.
func Name(store, query, ext string, at time.Time) string {
	return at.UTC().Format("20060102_150405") + "_" + sanitize(store) + "_" + sanitize(query) + "." + ext
}

func sanitize(s string) string {
	replacer := strings.NewReplacer(":", "-", "/", "-", "?", "-", "&", "-", "=", "-", "#", "-", "%", "", " ", "_", "\\", "-")
	out := replacer.Replace(strings.TrimSpace(s))
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}
