package sanity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"wechat_sync/internal/domain"
)

// Config holds Sanity project configuration. BaseURL overrides the URL
// derived from ProjectID and APIHost.
type Config struct {
	ProjectID  string
	Dataset    string
	Token      string
	APIVersion string
	APIHost    string
	BaseURL    string
	Timeout    time.Duration
}

// Client talks to the Sanity HTTP API. It stores posts and image assets.
type Client struct {
	httpClient *http.Client
	baseURL    string
	dataset    string
	token      string
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.%s", cfg.ProjectID, cfg.APIHost)
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base + "/v" + cfg.APIVersion,
		dataset:    cfg.Dataset,
		token:      cfg.Token,
		logger:     logger.With("component", "sanity"),
	}
}

// postByIDQuery projects only what an upsert needs from the stored post, so
// blocks edited into unknown shapes never have to be decoded.
const postByIDQuery = `*[_id == $id][0]{_id, publishedAt}`

type storedPost struct {
	ID          string `json:"_id"`
	PublishedAt string `json:"publishedAt"`
}

type queryResponse struct {
	Result *storedPost `json:"result"`
}

// FindPost returns the id and publishedAt of the post stored under id, or
// nil if there is none. Other fields are left empty.
func (c *Client) FindPost(ctx context.Context, id string) (*domain.Post, error) {
	param, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("marshal query param: %w", err)
	}

	q := url.Values{}
	q.Set("query", postByIDQuery)
	q.Set("$id", string(param))

	endpoint := fmt.Sprintf("%s/data/query/%s?%s", c.baseURL, url.PathEscape(c.dataset), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var resp queryResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("query post %s: %w", id, err)
	}
	if resp.Result == nil {
		return nil, nil
	}

	post := &domain.Post{ID: resp.Result.ID}
	if resp.Result.PublishedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, resp.Result.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("parse publishedAt of post %s: %w", id, err)
		}
		post.PublishedAt = t
	}
	return post, nil
}

type mutation struct {
	CreateOrReplace *document `json:"createOrReplace"`
}

type mutateRequest struct {
	Mutations []mutation `json:"mutations"`
}

type mutateResponse struct {
	TransactionID string `json:"transactionId"`
	Results       []struct {
		ID        string `json:"id"`
		Operation string `json:"operation"`
	} `json:"results"`
}

// ReplacePost writes post with createOrReplace semantics: the stored document
// is overwritten as a whole.
func (c *Client) ReplacePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	doc, err := encodePost(post)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(mutateRequest{Mutations: []mutation{{CreateOrReplace: doc}}})
	if err != nil {
		return nil, fmt.Errorf("marshal mutation: %w", err)
	}

	endpoint := fmt.Sprintf("%s/data/mutate/%s?returnIds=true", c.baseURL, url.PathEscape(c.dataset))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp mutateResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("replace post %s: %w", post.ID, err)
	}

	c.logger.Debug("post written",
		"id", post.ID,
		"transaction_id", resp.TransactionID,
	)

	return post, nil
}

type assetResponse struct {
	Document struct {
		ID  string `json:"_id"`
		URL string `json:"url"`
	} `json:"document"`
}

// UploadImage stores data as an image asset.
func (c *Client) UploadImage(ctx context.Context, data []byte, contentType, filename string) (string, string, error) {
	q := url.Values{}
	q.Set("filename", filename)

	endpoint := fmt.Sprintf("%s/assets/images/%s?%s", c.baseURL, url.PathEscape(c.dataset), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var resp assetResponse
	if err := c.do(req, &resp); err != nil {
		return "", "", fmt.Errorf("upload asset %s: %w", filename, err)
	}
	if resp.Document.ID == "" {
		return "", "", fmt.Errorf("upload asset %s: response has no document id", filename)
	}

	return resp.Document.ID, resp.Document.URL, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
