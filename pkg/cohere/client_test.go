package cohere

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRerank(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rerank" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Fatalf("missing bearer token")
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != DefaultModel || req.TopN != 3 || !req.ReturnDocuments || len(req.Documents) != 3 {
			t.Fatalf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"id":"r1","results":[{"index":2,"relevance_score":0.91},{"index":7,"relevance_score":0.5},{"index":0,"relevance_score":0.12}]}`))
	}))
	defer ts.Close()

	c, err := NewClient(Options{APIKey: "key", BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	got, err := c.Rerank(context.Background(), "bold and nutty", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(got) != 2 || got[0].Index != 2 || got[1].Index != 0 {
		t.Fatalf("out-of-range indexes must be dropped, got %+v", got)
	}
}

func TestRerankError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid api token"}`, http.StatusUnauthorized)
	}))
	defer ts.Close()

	c, _ := NewClient(Options{APIKey: "key", BaseURL: ts.URL})
	if _, err := c.Rerank(context.Background(), "q", []string{"a"}); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestMissingKey(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
