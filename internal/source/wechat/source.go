package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"wechat_sync/internal/domain"
)

const (
	SourceID   = "wechat"
	SourceName = "WeChat Official Account"
)

const (
	ListingMaterial  = "material"
	ListingPublished = "published"
)

// tokenMargin is subtracted from the advertised token lifetime so a cached
// token is never used right at its expiry.
const tokenMargin = 300 * time.Second

// Config holds WeChat source configuration.
type Config struct {
	BaseURL        string
	AppID          string
	Secret         string
	Listing        string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// APIError is a non-zero errcode returned by the platform.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wechat api error %d: %s", e.Code, e.Message)
}

// tokenRejected reports whether the error means the access token must be
// fetched again.
func (e *APIError) tokenRejected() bool {
	switch e.Code {
	case 40001, 40014, 42001:
		return true
	}
	return false
}

type responder interface {
	status() apiError
}

func (e apiError) status() apiError { return e }

// Source reads news articles from a WeChat official account.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	appID          string
	secret         string
	listing        string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
	now            func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a new WeChat source.
func New(cfg Config, logger *slog.Logger) *Source {
	listing := cfg.Listing
	if listing == "" {
		listing = ListingMaterial
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		appID:          cfg.AppID,
		secret:         cfg.Secret,
		listing:        listing,
		maxAttempts:    maxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("source", SourceID),
		now:            time.Now,
	}
}

// ID returns the source identifier.
func (s *Source) ID() string {
	return SourceID
}

// Name returns human-readable name.
func (s *Source) Name() string {
	return SourceName
}

// Token returns a cached access token, requesting a new one when the cached
// token is missing or about to expire.
func (s *Source) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.tokenExpiry) {
		return s.token, nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credential")
	q.Set("appid", s.appID)
	q.Set("secret", s.secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/cgi-bin/token?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}

	var resp tokenResponse
	if err := s.do(req, &resp); err != nil {
		return "", fmt.Errorf("get access token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("get access token: empty token in response")
	}

	s.token = resp.AccessToken
	s.tokenExpiry = s.now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenMargin)
	s.logger.Debug("access token refreshed", "expires_at", s.tokenExpiry)

	return s.token, nil
}

func (s *Source) invalidateToken() {
	s.mu.Lock()
	s.token = ""
	s.tokenExpiry = time.Time{}
	s.mu.Unlock()
}

// MaterialCount returns the permanent material statistics.
func (s *Source) MaterialCount(ctx context.Context) (*MaterialCount, error) {
	var resp MaterialCount
	if err := s.call(ctx, "/cgi-bin/material/get_materialcount", struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("get material count: %w", err)
	}
	return &resp, nil
}

// Count returns the number of listing items available for the configured
// listing.
func (s *Source) Count(ctx context.Context) (int, error) {
	if s.listing == ListingPublished {
		noContent := 1
		resp, err := s.batch(ctx, "/cgi-bin/freepublish/batchget", batchRequest{Offset: 0, Count: 1, NoContent: &noContent})
		if err != nil {
			return 0, fmt.Errorf("get published count: %w", err)
		}
		return resp.TotalCount, nil
	}

	mc, err := s.MaterialCount(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("material count",
		"news", mc.NewsCount,
		"image", mc.ImageCount,
		"video", mc.VideoCount,
		"voice", mc.VoiceCount,
	)
	return mc.NewsCount, nil
}

// FetchBatch lists count items starting at offset, newest first.
func (s *Source) FetchBatch(ctx context.Context, offset, count int) ([]domain.SourceItem, error) {
	var (
		resp *BatchResponse
		err  error
	)
	if s.listing == ListingPublished {
		noContent := 0
		resp, err = s.batch(ctx, "/cgi-bin/freepublish/batchget", batchRequest{Offset: offset, Count: count, NoContent: &noContent})
	} else {
		resp, err = s.batch(ctx, "/cgi-bin/material/batchget_material", batchRequest{Type: "news", Offset: offset, Count: count})
	}
	if err != nil {
		return nil, fmt.Errorf("fetch batch at offset %d: %w", offset, err)
	}

	s.logger.Debug("fetched batch",
		"offset", offset,
		"items", len(resp.Item),
		"total", resp.TotalCount,
	)

	return s.transform(resp.Item), nil
}

func (s *Source) batch(ctx context.Context, path string, body batchRequest) (*BatchResponse, error) {
	var resp BatchResponse
	if err := s.call(ctx, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call POSTs body to an authenticated endpoint, retrying with backoff.
// API errors other than a rejected token are not retried.
func (s *Source) call(ctx context.Context, path string, body any, out responder) error {
	var err error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.callOnce(ctx, path, body, out)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if !apiErr.tokenRejected() {
				return err
			}
			s.invalidateToken()
		}

		if attempt == s.maxAttempts {
			break
		}

		backoff := s.calculateBackoff(attempt)
		s.logger.Warn("request failed, retrying",
			"path", path,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("after %d attempts: %w", s.maxAttempts, err)
}

func (s *Source) callOnce(ctx context.Context, path string, body any, out responder) error {
	token, err := s.Token(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := s.baseURL + path + "?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return s.do(req, out)
}

func (s *Source) do(req *http.Request, out responder) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "WeChatSync/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// the URL carries credentials, keep it out of the error
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if st := out.status(); st.ErrCode != 0 {
		return &APIError{Code: st.ErrCode, Message: st.ErrMsg}
	}

	return nil
}

func (s *Source) calculateBackoff(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

func (s *Source) transform(items []Item) []domain.SourceItem {
	result := make([]domain.SourceItem, 0, len(items))

	for _, it := range items {
		mediaID := it.MediaID
		if mediaID == "" {
			mediaID = it.ArticleID
		}
		ts := it.UpdateTime
		if ts == 0 {
			ts = it.Content.UpdateTime
		}
		updated := time.Unix(ts, 0).UTC()

		item := domain.SourceItem{
			MediaID:    mediaID,
			UpdateTime: updated,
			Articles:   make([]domain.Article, 0, len(it.Content.NewsItem)),
		}
		for _, n := range it.Content.NewsItem {
			item.Articles = append(item.Articles, domain.Article{
				MediaID:     mediaID,
				Title:       n.Title,
				HTMLContent: n.Content,
				Author:      n.Author,
				Digest:      n.Digest,
				URL:         n.URL,
				UpdateTime:  updated,
			})
		}

		result = append(result, item)
	}

	return result
}
