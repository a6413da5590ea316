// Package output persists the final record set as the catalog JSON document.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// PartialPrefix marks documents written by an interrupted run.
const PartialPrefix = "partial_"

const contentType = "application/json"

// BlobStore is the backend a document is written to.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Document is the on-disk shape of a run's output.
type Document struct {
	Name      string           `json:"name"`
	Downloads []crawler.Record `json:"downloads"`
}

// Config controls naming and logging for a Writer.
type Config struct {
	// Name is the catalog display name stored in the document.
	Name string
	// Object is the document path within the store, e.g. repackgames.json.
	Object string
	// Backend labels metrics and logs (file, gcs, memory).
	Backend string
	RunID   string
	Logger  *zap.Logger
}

// Written describes the last successful write.
type Written struct {
	URI     string
	Object  string
	Digest  string
	Bytes   int64
	Records int
	Partial bool
}

// Writer implements crawler.OutputSink.
type Writer struct {
	store  BlobStore
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	last *Written
}

// New builds a Writer over store.
func New(store BlobStore, cfg Config) (*Writer, error) {
	if store == nil {
		return nil, errors.New("output store is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, errors.New("output object name is required")
	}
	if cfg.Backend == "" {
		cfg.Backend = "unknown"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("backend", cfg.Backend), zap.String("run_id", cfg.RunID)),
	}, nil
}

// ObjectName returns the document path, prefixed with PartialPrefix for
// interrupted runs.
func (w *Writer) ObjectName(partial bool) string {
	if !partial {
		return w.cfg.Object
	}
	dir, file := path.Split(w.cfg.Object)
	return dir + PartialPrefix + file
}

// Write encodes result and stores it. An interrupted run with nothing
// gathered writes nothing.
func (w *Writer) Write(ctx context.Context, result crawler.RunResult) error {
	if result.Interrupted && len(result.Records) == 0 {
		w.logger.Warn("interrupted run gathered no records; nothing written")
		return nil
	}

	payload, digest, err := Encode(w.cfg.Name, result.Records)
	if err != nil {
		metrics.ObserveOutputWrite(w.cfg.Backend, metrics.OutcomeError)
		return err
	}

	object := w.ObjectName(result.Interrupted)
	uri, err := w.store.PutObject(ctx, object, contentType, bytes.NewReader(payload))
	if err != nil {
		metrics.ObserveOutputWrite(w.cfg.Backend, metrics.OutcomeError)
		return fmt.Errorf("put %s: %w", object, err)
	}
	metrics.ObserveOutputWrite(w.cfg.Backend, metrics.OutcomeOK)

	written := &Written{
		URI:     uri,
		Object:  object,
		Digest:  digest,
		Bytes:   int64(len(payload)),
		Records: len(result.Records),
		Partial: result.Interrupted,
	}
	w.mu.Lock()
	w.last = written
	w.mu.Unlock()

	w.logger.Info("output written",
		zap.String("uri", uri),
		zap.Int("records", written.Records),
		zap.Int64("bytes", written.Bytes),
		zap.String("sha256", digest),
		zap.Bool("partial", written.Partial),
	)
	return nil
}

// Last returns the last successful write.
func (w *Writer) Last() (Written, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return Written{}, false
	}
	return *w.last, true
}

// Encode renders the document as indented JSON and returns its SHA-256.
func Encode(name string, records []crawler.Record) ([]byte, string, error) {
	if records == nil {
		records = []crawler.Record{}
	}
	var buf bytes.Buffer
	digest := sha256.NewWriter(&buf)
	enc := json.NewEncoder(digest)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Document{Name: name, Downloads: records}); err != nil {
		return nil, "", fmt.Errorf("encode output document: %w", err)
	}
	return buf.Bytes(), digest.Sum(), nil
}
