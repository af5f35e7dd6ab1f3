package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cricline/cricsync/logger"
	"github.com/cricline/cricsync/types"
)

func TestGetDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/matches/7" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "k1" {
			t.Errorf("missing configured header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score":"204/5"}`))
	}))
	defer server.Close()

	client := NewFetchClient(logger.NewNop(), &types.ClientConfig{
		BaseURL: server.URL,
		Headers: map[string]string{"X-Api-Key": "k1"},
	})

	// Targets arrive through interface{} parameters, the same way the
	// coordinator hands them over.
	var out map[string]interface{}
	var target interface{} = &out
	if err := client.Get(context.Background(), "/matches/7", target); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out["score"] != "204/5" {
		t.Fatalf("unexpected decode result: %v", out)
	}
}

func TestFetcherMapsStatusToRequestError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewFetchClient(logger.NewNop(), &types.ClientConfig{BaseURL: server.URL})

	fetcher := client.Fetcher("/matches/gone", func() interface{} {
		return &map[string]interface{}{}
	})

	_, err := fetcher(context.Background())
	var reqErr *types.RequestError
	if !errors.As(err, &reqErr) || reqErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 RequestError, got %v", err)
	}
	if types.IsRetryable(err) {
		t.Fatalf("404 must not be retryable")
	}
}

func TestGetContextCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewFetchClient(logger.NewNop(), &types.ClientConfig{BaseURL: server.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.Get(ctx, "/matches/slow", nil)
	if !types.IsError(err, types.ErrRequestCancelled) {
		t.Fatalf("expected ErrRequestCancelled, got %v", err)
	}
}
