/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_publish/internal/models"
	"github.com/friendsincode/skald_publish/internal/telemetry"
)

// Publisher pushes a post to its shop's blog. Implementations must be safe
// for concurrent use.
type Publisher interface {
	PublishArticle(ctx context.Context, shop models.Shop, post models.Post) (PublishResult, error)
}

// PublishResult carries the upstream identifiers of a published article.
type PublishResult struct {
	ArticleID  string
	HTTPStatus int
}

// APIError is a non-2xx response from the Admin API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify api: status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the failure is worth another dispatch attempt.
// Rate limiting and server errors are transient; 4xx responses are not.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client talks to the Shopify Admin REST API.
type Client struct {
	httpClient *http.Client
	apiVersion string
	logger     zerolog.Logger

	// baseURL overrides the shop domain scheme/host, used by tests.
	baseURL string
}

// NewClient creates an Admin API client.
func NewClient(apiVersion string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiVersion: apiVersion,
		logger:     logger.With().Str("component", "shopify").Logger(),
	}
}

// NewClientWithBaseURL creates a client that sends all requests to baseURL
// instead of the shop domain. Test seam.
func NewClientWithBaseURL(apiVersion string, timeout time.Duration, baseURL string, logger zerolog.Logger) *Client {
	c := NewClient(apiVersion, timeout, logger)
	c.baseURL = baseURL
	return c
}

type articlePayload struct {
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	BodyHTML  string `json:"body_html"`
	Tags      string `json:"tags,omitempty"`
	Handle    string `json:"handle,omitempty"`
	Published bool   `json:"published"`
}

type articleRequest struct {
	Article articlePayload `json:"article"`
}

type articleResponse struct {
	Article struct {
		ID int64 `json:"id"`
	} `json:"article"`
}

// PublishArticle creates a published article on the post's blog.
func (c *Client) PublishArticle(ctx context.Context, shop models.Shop, post models.Post) (PublishResult, error) {
	blogID := post.BlogID
	if blogID == "" {
		blogID = shop.BlogID
	}
	if blogID == "" {
		return PublishResult{}, fmt.Errorf("post %s has no blog id and shop %s has no default", post.ID, shop.ID)
	}

	body, err := json.Marshal(articleRequest{Article: articlePayload{
		Title:     post.Title,
		BodyHTML:  post.BodyHTML,
		Tags:      post.Tags,
		Handle:    post.Handle,
		Published: true,
	}})
	if err != nil {
		return PublishResult{}, fmt.Errorf("marshal article: %w", err)
	}

	url := fmt.Sprintf("%s/admin/api/%s/blogs/%s/articles.json", c.shopBase(shop), c.apiVersion, blogID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return PublishResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", shop.AccessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	telemetry.ShopifyRequestDuration.WithLabelValues("create_article").Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.ShopifyRequestsTotal.WithLabelValues("create_article", "transport_error").Inc()
		return PublishResult{}, fmt.Errorf("create article: %w", err)
	}
	defer resp.Body.Close()

	telemetry.ShopifyRequestsTotal.WithLabelValues("create_article", strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PublishResult{HTTPStatus: resp.StatusCode}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("shop", shop.Domain).
			Str("post", post.ID).
			Msg("article create rejected")
		return PublishResult{HTTPStatus: resp.StatusCode}, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed articleResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return PublishResult{HTTPStatus: resp.StatusCode}, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Info().
		Str("shop", shop.Domain).
		Str("post", post.ID).
		Int64("article_id", parsed.Article.ID).
		Msg("article published")

	return PublishResult{
		ArticleID:  strconv.FormatInt(parsed.Article.ID, 10),
		HTTPStatus: resp.StatusCode,
	}, nil
}

func (c *Client) shopBase(shop models.Shop) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return "https://" + shop.Domain
}
