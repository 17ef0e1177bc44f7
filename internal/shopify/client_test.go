/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_publish/internal/models"
)

func testShop() models.Shop {
	return models.Shop{
		ID:          "shop-1",
		Domain:      "demo.myshopify.com",
		AccessToken: "shpat_test",
		BlogID:      "42",
	}
}

func testPost() models.Post {
	return models.Post{
		ID:       "post-1",
		Title:    "Summer Sale",
		BodyHTML: "<p>Everything must go.</p>",
		Tags:     "sale,summer",
	}
}

func TestPublishArticle(t *testing.T) {
	var gotPath, gotToken string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"article":{"id":987654321}}`))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL("2025-07", 5*time.Second, srv.URL, zerolog.Nop())
	result, err := client.PublishArticle(context.Background(), testShop(), testPost())
	if err != nil {
		t.Fatalf("PublishArticle: %v", err)
	}

	if result.ArticleID != "987654321" {
		t.Fatalf("ArticleID = %q, want %q", result.ArticleID, "987654321")
	}
	if gotPath != "/admin/api/2025-07/blogs/42/articles.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotToken != "shpat_test" {
		t.Fatalf("access token header = %q", gotToken)
	}

	article, ok := gotBody["article"].(map[string]any)
	if !ok {
		t.Fatalf("request body missing article: %v", gotBody)
	}
	if article["title"] != "Summer Sale" {
		t.Fatalf("title = %v", article["title"])
	}
	if article["published"] != true {
		t.Fatalf("published = %v, want true", article["published"])
	}
}

func TestPublishArticleUsesPostBlogOverShopDefault(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"article":{"id":1}}`))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL("2025-07", 5*time.Second, srv.URL, zerolog.Nop())
	post := testPost()
	post.BlogID = "99"

	if _, err := client.PublishArticle(context.Background(), testShop(), post); err != nil {
		t.Fatalf("PublishArticle: %v", err)
	}
	if gotPath != "/admin/api/2025-07/blogs/99/articles.json" {
		t.Fatalf("path = %q, want post blog 99", gotPath)
	}
}

func TestPublishArticleAPIError(t *testing.T) {
	tests := []struct {
		status        int
		wantRetryable bool
	}{
		{http.StatusUnprocessableEntity, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"errors":"nope"}`))
		}))

		client := NewClientWithBaseURL("2025-07", 5*time.Second, srv.URL, zerolog.Nop())
		_, err := client.PublishArticle(context.Background(), testShop(), testPost())
		srv.Close()

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: err = %v, want APIError", tt.status, err)
		}
		if apiErr.Status != tt.status {
			t.Fatalf("APIError.Status = %d, want %d", apiErr.Status, tt.status)
		}
		if apiErr.Retryable() != tt.wantRetryable {
			t.Fatalf("status %d: Retryable() = %v, want %v", tt.status, apiErr.Retryable(), tt.wantRetryable)
		}
	}
}

func TestPublishArticleRequiresBlog(t *testing.T) {
	client := NewClient("2025-07", 5*time.Second, zerolog.Nop())
	shop := testShop()
	shop.BlogID = ""

	if _, err := client.PublishArticle(context.Background(), shop, testPost()); err == nil {
		t.Fatal("expected error when no blog id is available")
	}
}
