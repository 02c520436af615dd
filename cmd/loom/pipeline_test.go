package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"threadloom/internal/embedding"
)

func TestProbeEmbedder_HealthyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	engine, err := embedding.NewOllamaEngine(srv.URL, "all-minilm")
	if err != nil {
		t.Fatalf("NewOllamaEngine failed: %v", err)
	}
	if err := probeEmbedder(engine); err != nil {
		t.Errorf("healthy endpoint must pass the probe: %v", err)
	}
}

func TestProbeEmbedder_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	engine, err := embedding.NewOllamaEngine(srv.URL, "all-minilm")
	if err != nil {
		t.Fatalf("NewOllamaEngine failed: %v", err)
	}
	if err := probeEmbedder(engine); err == nil {
		t.Error("dead endpoint must fail the probe")
	}
}

func TestProbeEmbedder_NoHealthSurface(t *testing.T) {
	// Engines without a health check are taken on trust.
	if err := probeEmbedder(embedding.NewMock()); err != nil {
		t.Errorf("engine without health surface must pass: %v", err)
	}
}
