package wechat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type SourceTestSuite struct {
	suite.Suite
	server      *httptest.Server
	mux         *http.ServeMux
	tokenCalls  atomic.Int32
	tokenIssued atomic.Int32
	logger      *slog.Logger
}

func (s *SourceTestSuite) SetupTest() {
	s.tokenCalls.Store(0)
	s.tokenIssued.Store(0)
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/cgi-bin/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		s.Equal("client_credential", r.URL.Query().Get("grant_type"))
		s.Equal("app", r.URL.Query().Get("appid"))
		s.Equal("secret", r.URL.Query().Get("secret"))
		n := s.tokenIssued.Add(1)
		writeJSON(w, map[string]any{"access_token": "tok-" + string(rune('0'+n)), "expires_in": 7200})
	})
	s.server = httptest.NewServer(s.mux)
}

func (s *SourceTestSuite) TearDownTest() {
	s.server.Close()
}

func TestSourceTestSuite(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

func (s *SourceTestSuite) newSource(listing string) *Source {
	return New(Config{
		BaseURL:        s.server.URL,
		AppID:          "app",
		Secret:         "secret",
		Listing:        listing,
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, s.logger)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *SourceTestSuite) TestToken_CachedUntilMargin() {
	src := s.newSource(ListingMaterial)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	tok, err := src.Token(context.Background())
	s.Require().NoError(err)
	s.Equal("tok-1", tok)

	now = now.Add(7200*time.Second - tokenMargin - time.Second)
	tok, err = src.Token(context.Background())
	s.Require().NoError(err)
	s.Equal("tok-1", tok)
	s.Equal(int32(1), s.tokenCalls.Load())

	now = now.Add(2 * time.Second)
	tok, err = src.Token(context.Background())
	s.Require().NoError(err)
	s.Equal("tok-2", tok)
	s.Equal(int32(2), s.tokenCalls.Load())
}

func (s *SourceTestSuite) TestCount_Material() {
	s.mux.HandleFunc("/cgi-bin/material/get_materialcount", func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodPost, r.Method)
		s.Equal("tok-1", r.URL.Query().Get("access_token"))
		writeJSON(w, map[string]any{"news_count": 42, "image_count": 7})
	})

	count, err := s.newSource(ListingMaterial).Count(context.Background())
	s.NoError(err)
	s.Equal(42, count)
}

func (s *SourceTestSuite) TestCount_Published() {
	s.mux.HandleFunc("/cgi-bin/freepublish/batchget", func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&req))
		s.Require().NotNil(req.NoContent)
		s.Equal(1, *req.NoContent)
		writeJSON(w, map[string]any{"total_count": 13, "item_count": 1})
	})

	count, err := s.newSource(ListingPublished).Count(context.Background())
	s.NoError(err)
	s.Equal(13, count)
}

func (s *SourceTestSuite) TestFetchBatch_FlattensNewsItems() {
	s.mux.HandleFunc("/cgi-bin/material/batchget_material", func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&req))
		s.Equal("news", req.Type)
		s.Equal(20, req.Offset)
		s.Equal(2, req.Count)
		writeJSON(w, map[string]any{
			"total_count": 30,
			"item_count":  1,
			"item": []map[string]any{{
				"media_id":    "M1",
				"update_time": 1700000000,
				"content": map[string]any{
					"news_item": []map[string]any{
						{"title": "first", "author": "A", "digest": "d", "content": "<p>x</p>", "url": "https://mp/1"},
						{"title": "second", "content": "<p>y</p>"},
					},
				},
			}},
		})
	})

	items, err := s.newSource(ListingMaterial).FetchBatch(context.Background(), 20, 2)
	s.Require().NoError(err)
	s.Require().Len(items, 1)

	item := items[0]
	s.Equal("M1", item.MediaID)
	s.Equal(time.Unix(1700000000, 0).UTC(), item.UpdateTime)
	s.Require().Len(item.Articles, 2)
	s.Equal("first", item.Articles[0].Title)
	s.Equal("M1", item.Articles[0].MediaID)
	s.Equal("<p>x</p>", item.Articles[0].HTMLContent)
	s.Equal("https://mp/1", item.Articles[0].URL)
	s.Equal("M1", item.Articles[1].MediaID)
	s.Equal(item.UpdateTime, item.Articles[1].UpdateTime)
}

func (s *SourceTestSuite) TestFetchBatch_PublishedUsesArticleID() {
	s.mux.HandleFunc("/cgi-bin/freepublish/batchget", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"item": []map[string]any{{
				"article_id":  "ART9",
				"update_time": 1700000100,
				"content":     map[string]any{"news_item": []map[string]any{{"title": "pub"}}},
			}},
		})
	})

	items, err := s.newSource(ListingPublished).FetchBatch(context.Background(), 0, 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal("ART9", items[0].MediaID)
	s.Equal("ART9", items[0].Articles[0].MediaID)
}

func (s *SourceTestSuite) TestCall_RefreshesRejectedToken() {
	var calls atomic.Int32
	s.mux.HandleFunc("/cgi-bin/material/get_materialcount", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			s.Equal("tok-1", r.URL.Query().Get("access_token"))
			writeJSON(w, map[string]any{"errcode": 42001, "errmsg": "access_token expired"})
			return
		}
		s.Equal("tok-2", r.URL.Query().Get("access_token"))
		writeJSON(w, map[string]any{"news_count": 3})
	})

	count, err := s.newSource(ListingMaterial).Count(context.Background())
	s.NoError(err)
	s.Equal(3, count)
	s.Equal(int32(2), s.tokenCalls.Load())
}

func (s *SourceTestSuite) TestCall_APIErrorNotRetried() {
	var calls atomic.Int32
	s.mux.HandleFunc("/cgi-bin/material/batchget_material", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, map[string]any{"errcode": 40007, "errmsg": "invalid media_id"})
	})

	_, err := s.newSource(ListingMaterial).FetchBatch(context.Background(), 0, 10)
	s.Require().Error(err)

	var apiErr *APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(40007, apiErr.Code)
	s.Equal(int32(1), calls.Load())
}

func (s *SourceTestSuite) TestCall_RetriesServerErrors() {
	var calls atomic.Int32
	s.mux.HandleFunc("/cgi-bin/material/batchget_material", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := s.newSource(ListingMaterial).FetchBatch(context.Background(), 0, 10)
	s.Require().Error(err)
	s.Contains(err.Error(), "after 3 attempts")
	s.Equal(int32(3), calls.Load())
}

func (s *SourceTestSuite) TestCalculateBackoff() {
	src := s.newSource(ListingMaterial)
	src.initialBackoff = time.Second
	src.maxBackoff = 5 * time.Second

	s.Equal(time.Second, src.calculateBackoff(1))
	s.Equal(2*time.Second, src.calculateBackoff(2))
	s.Equal(4*time.Second, src.calculateBackoff(3))
	s.Equal(5*time.Second, src.calculateBackoff(4))
}
