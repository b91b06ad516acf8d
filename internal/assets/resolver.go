package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"wechat_sync/internal/domain"
)

//go:generate mockgen -source=resolver.go -destination=mocks/mocks.go -package=mocks

const (
	defaultContentType = "image/jpeg"
	// maxImageBytes bounds a single download.
	maxImageBytes = 32 << 20
)

// Uploader stores image bytes and returns the stored asset's id and URL.
type Uploader interface {
	UploadImage(ctx context.Context, data []byte, contentType, filename string) (assetID, url string, err error)
}

type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Resolver downloads remote images and re-hosts them through an Uploader.
// It keeps no state between calls; de-duplication is the caller's concern.
type Resolver struct {
	httpClient *http.Client
	uploader   Uploader
	userAgent  string
	logger     *slog.Logger
}

func NewResolver(cfg Config, uploader Uploader, logger *slog.Logger) *Resolver {
	return &Resolver{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		uploader:   uploader,
		userAgent:  cfg.UserAgent,
		logger:     logger.With("component", "assets"),
	}
}

// Resolve downloads url and uploads it. Any failure is returned as an error
// and must be treated as "keep the external URL".
func (r *Resolver) Resolve(ctx context.Context, url string) (*domain.ImageAsset, error) {
	data, contentType, err := r.download(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}

	filename := "wx-image-" + uuid.NewString() + extensionFor(contentType)

	assetID, assetURL, err := r.uploader.UploadImage(ctx, data, contentType, filename)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}

	r.logger.Debug("image re-hosted",
		"source_url", url,
		"asset_id", assetID,
		"bytes", len(data),
	)

	return &domain.ImageAsset{
		SourceURL:   url,
		AssetID:     assetID,
		URL:         assetURL,
		ContentType: contentType,
	}, nil
}

func (r *Resolver) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	// some CDNs refuse Go's default client identifier
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty body")
	}

	return data, contentTypeOf(resp.Header.Get("Content-Type"), data), nil
}

// contentTypeOf prefers the response header, then sniffs the bytes, and
// falls back to a generic image type.
func contentTypeOf(header string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && strings.HasPrefix(mt, "image/") {
		return mt
	}
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return defaultContentType
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "image/bmp":
		return ".bmp"
	}
	return ".img"
}
