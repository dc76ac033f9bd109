package submission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rubricsync/internal/authclient"
	"rubricsync/internal/config"
	"rubricsync/internal/dom"
)

func cacheFor(t *testing.T, handler http.HandlerFunc) *Cache {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Host.BaseURL = srv.URL
	cfg.Client.BackoffBase = "1ms"

	page := dom.NewFakePage("https://host.test/grade")
	head, err := page.RootNode.Query(context.Background(), "head")
	require.NoError(t, err)
	head.(*dom.FakeNode).AppendChild(
		dom.NewFakeNode("meta", "name", "csrf-token", "content", "tok"))

	client := authclient.New(cfg, page)
	require.NoError(t, client.Initialize(context.Background()))
	return NewCache(client, cfg)
}

func TestKeyBucketsSubmissions(t *testing.T) {
	assert.Equal(t, "c1:40", Key("c1", 42, 10))
	assert.Equal(t, "c1:40", Key("c1", 49, 10))
	assert.Equal(t, "c1:50", Key("c1", 50, 10))
	assert.NotEqual(t, Key("c1", 42, 10), Key("c2", 42, 10))
}

func TestFilesDownloadedOncePerBucket(t *testing.T) {
	var downloads atomic.Int32
	cache := cacheFor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/account" {
			return // session probe
		}
		downloads.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"main.go": "package main"})
	})

	ctx := context.Background()
	first, err := cache.Files(ctx, "c1", 42)
	require.NoError(t, err)
	assert.Equal(t, "package main", first["main.go"])

	// Sibling question of the same assignment, same bucket.
	second, err := cache.Files(ctx, "c1", 45)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), downloads.Load())

	// Different bucket triggers a fresh download.
	_, err = cache.Files(ctx, "c1", 52)
	require.NoError(t, err)
	assert.Equal(t, int32(2), downloads.Load())
	assert.Equal(t, 2, cache.Len())
}

func TestFilesClear(t *testing.T) {
	var downloads atomic.Int32
	cache := cacheFor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/account" {
			return
		}
		downloads.Add(1)
		json.NewEncoder(w).Encode(map[string]string{})
	})

	ctx := context.Background()
	_, err := cache.Files(ctx, "c1", 42)
	require.NoError(t, err)
	cache.Clear()
	assert.Zero(t, cache.Len())

	_, err = cache.Files(ctx, "c1", 42)
	require.NoError(t, err)
	assert.Equal(t, int32(2), downloads.Load())
}

func TestFilesErrorStatus(t *testing.T) {
	cache := cacheFor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/account" {
			return
		}
		http.Error(w, "gone", http.StatusNotFound)
	})

	_, err := cache.Files(context.Background(), "c1", 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Zero(t, cache.Len())
}
