// Package checkpoint persists result documents atomically. Partial
// checkpoints and the final document live at distinct paths so an interrupted
// run never replaces a finished result.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/clock/system"
	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
)

const (
	partialSuffix = "_partial"
	contentType   = "application/json"
)

// PartialPath derives the in-progress checkpoint path from the final path:
// "out/run.json" becomes "out/run_partial.json".
func PartialPath(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return path + partialSuffix
	}
	return strings.TrimSuffix(path, ext) + partialSuffix + ext
}

// Option customizes a Store.
type Option func(*Store)

// WithMirror copies every final document to blobs under prefix.
func WithMirror(blobs crawler.BlobStore, prefix string) Option {
	return func(s *Store) {
		s.blobs = blobs
		s.prefix = strings.Trim(prefix, "/")
	}
}

// WithClock overrides the timestamp source.
func WithClock(clock crawler.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.Named("checkpoint")
		}
	}
}

// Store writes and reads result documents on the local filesystem.
type Store struct {
	clock  crawler.Clock
	blobs  crawler.BlobStore
	prefix string
	logger *zap.Logger

	// rename is swapped in tests to simulate a crash between write and rename.
	rename func(oldpath, newpath string) error
}

// New constructs a Store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:  system.New(),
		logger: zap.NewNop(),
		rename: os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save wraps records in a fresh document and writes it. Partial saves go to
// PartialPath(path) and are never mirrored.
func (s *Store) Save(ctx context.Context, records []crawler.Record, path string, partial bool) error {
	doc := crawler.NewDocument(records, s.clock.Now().UTC())
	if partial {
		return s.write(PartialPath(path), doc)
	}
	return s.SaveDocument(ctx, doc, path)
}

// SaveDocument writes doc to path in final form and mirrors it when a blob
// store is configured. Summary counters are recomputed before writing.
func (s *Store) SaveDocument(ctx context.Context, doc crawler.Document, path string) error {
	doc.Recount()
	if err := s.write(path, doc); err != nil {
		return err
	}
	s.logger.Info("results saved",
		zap.String("path", path),
		zap.Int("total", doc.TotalVideos),
		zap.Int("successful", doc.SuccessfulExtractions),
		zap.Int("failed", doc.FailedExtractions),
	)
	if s.blobs == nil {
		return nil
	}
	uri, err := s.mirror(ctx, doc, path)
	if err != nil {
		// The local file is authoritative; a failed mirror is reported only.
		s.logger.Warn("mirror upload failed", zap.String("path", path), zap.Error(err))
		return nil
	}
	s.logger.Info("results mirrored", zap.String("uri", uri))
	return nil
}

// Load reads a result document. Documents written by older tools, either a
// bare array of records or ones stamped "2006-01-02 15:04:05", are accepted.
func (s *Store) Load(path string) (crawler.Document, error) {
	// #nosec G304 -- checkpoint paths are operator supplied.
	data, err := os.ReadFile(path)
	if err != nil {
		return crawler.Document{}, fmt.Errorf("read results %s: %w", path, err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return crawler.Document{}, fmt.Errorf("decode results %s: %w", path, err)
	}
	return doc, nil
}

// write encodes doc next to path and renames it into place. On any failure the
// temporary file is removed and the previous file at path is left untouched.
func (s *Store) write(path string, doc crawler.Document) (err error) {
	data, err := encode(doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := s.rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func (s *Store) mirror(ctx context.Context, doc crawler.Document, path string) (string, error) {
	data, err := encode(doc)
	if err != nil {
		return "", err
	}
	name := filepath.Base(path)
	if s.prefix != "" {
		name = s.prefix + "/" + name
	}
	uri, err := s.blobs.PutObject(ctx, name, contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	return uri, nil
}

func encode(doc crawler.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	return buf.Bytes(), nil
}
