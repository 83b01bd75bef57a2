// Package assets stores uploaded files. When an S3-compatible bucket is
// configured, files land there and the returned locator is a public URL.
// Without a bucket the adapter embeds the file as a base64 data URI so the
// rest of the system keeps working in development and tests.
package assets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxFileBytes caps a single upload at 5 MiB.
	DefaultMaxFileBytes = 5 << 20

	localIdentifierPrefix = "inline-"
	maxConcurrentUploads  = 4
)

var (
	// ErrFileTooLarge reports an upload over the configured size limit.
	ErrFileTooLarge = errors.New("file exceeds the maximum allowed size")
	// ErrUnsupportedType reports a content type outside the allow list.
	ErrUnsupportedType = errors.New("file type is not allowed")
	// ErrRemoteUnavailable reports an operation that requires a configured
	// bucket when none is available.
	ErrRemoteUnavailable = errors.New("object storage is not configured")
)

// File is an upload payload held fully in memory. Folder optionally
// namespaces the object key; empty selects "uploads".
type File struct {
	Name        string
	ContentType string
	Bytes       []byte
	Folder      string
}

// UploadResult identifies a stored file. Locator is what clients render (a
// URL or a data URI); Identifier is what Delete accepts later.
type UploadResult struct {
	Locator    string `json:"url"`
	Identifier string `json:"fileId"`
}

// Config controls the adapter. Leaving Bucket or Endpoint empty selects the
// inline data-URI fallback.
type Config struct {
	Bucket         string
	Endpoint       string
	PublicEndpoint string
	Region         string
	AccessKey      string
	SecretKey      string
	Prefix         string
	UseSSL         bool
	RequestTimeout time.Duration
	MaxFileBytes   int64
	Logger         *slog.Logger
}

// Adapter validates and stores upload payloads.
type Adapter struct {
	remote       remoteStore
	maxFileBytes int64
	logger       *slog.Logger
}

type remoteStore interface {
	Enabled() bool
	Upload(ctx context.Context, key, contentType string, body []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// New builds an adapter from cfg. It never fails: incomplete remote
// configuration degrades to the inline fallback, which is logged once.
func New(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	remote := newS3Store(cfg)
	if !remote.Enabled() {
		logger.Info("asset storage using inline data-uri fallback; configure a bucket for remote uploads")
	}
	return &Adapter{remote: remote, maxFileBytes: maxBytes, logger: logger}
}

// RemoteEnabled reports whether uploads go to a bucket rather than inline.
func (a *Adapter) RemoteEnabled() bool {
	return a.remote.Enabled()
}

// Validate checks size and content type without storing anything.
func (a *Adapter) Validate(file File) error {
	if int64(len(file.Bytes)) > a.maxFileBytes {
		return fmt.Errorf("%w (limit %d bytes)", ErrFileTooLarge, a.maxFileBytes)
	}
	if !allowedContentType(file.ContentType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, file.ContentType)
	}
	return nil
}

// Store validates and persists one file.
func (a *Adapter) Store(ctx context.Context, file File) (UploadResult, error) {
	if err := a.Validate(file); err != nil {
		return UploadResult{}, err
	}
	if !a.remote.Enabled() {
		return inlineResult(file), nil
	}
	key := objectKey(file.Folder, file.Name)
	locator, err := a.remote.Upload(ctx, key, file.ContentType, file.Bytes)
	if err != nil {
		return UploadResult{}, fmt.Errorf("store asset %s: %w", file.Name, err)
	}
	if locator == "" {
		locator = key
	}
	return UploadResult{Locator: locator, Identifier: key}, nil
}

// StoreMany persists files concurrently and preserves input order in the
// results. On the first failure the remaining uploads are cancelled and the
// error is returned; files already uploaded are not rolled back, cleanup of
// those identifiers is the caller's responsibility.
func (a *Adapter) StoreMany(ctx context.Context, files []File) ([]UploadResult, error) {
	for _, file := range files {
		if err := a.Validate(file); err != nil {
			return nil, err
		}
	}
	results := make([]UploadResult, len(files))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentUploads)
	for idx, file := range files {
		idx, file := idx, file
		group.Go(func() error {
			result, err := a.Store(groupCtx, file)
			if err != nil {
				return err
			}
			results[idx] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Delete removes a previously stored file. Inline identifiers have nothing
// to remove and succeed immediately. Remote identifiers require a configured
// bucket; without one the delete is a hard error rather than a silent skip.
func (a *Adapter) Delete(ctx context.Context, identifier string) error {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return errors.New("asset identifier is required")
	}
	if strings.HasPrefix(trimmed, localIdentifierPrefix) {
		return nil
	}
	if !a.remote.Enabled() {
		return fmt.Errorf("delete asset %s: %w", trimmed, ErrRemoteUnavailable)
	}
	if err := a.remote.Delete(ctx, trimmed); err != nil {
		return fmt.Errorf("delete asset %s: %w", trimmed, err)
	}
	return nil
}

func inlineResult(file File) UploadResult {
	contentType := strings.TrimSpace(file.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	encoded := base64.StdEncoding.EncodeToString(file.Bytes)
	return UploadResult{
		Locator:    "data:" + contentType + ";base64," + encoded,
		Identifier: localIdentifierPrefix + uniqueSuffix(),
	}
}

func objectKey(folder, name string) string {
	cleaned := strings.Trim(strings.TrimSpace(folder), "/")
	if cleaned == "" {
		cleaned = "uploads"
	}
	ext := strings.ToLower(path.Ext(name))
	return cleaned + "/" + uniqueSuffix() + ext
}

func uniqueSuffix() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

func allowedContentType(contentType string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(normalized, ';'); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	if strings.HasPrefix(normalized, "image/") {
		return true
	}
	switch normalized {
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel",
		"text/csv",
		"text/plain":
		return true
	}
	return false
}
