package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPGenerator_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected bearer key, got %q", r.Header.Get("Authorization"))
		}
		var body completionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.ContentType != "treatment_summary" || body.Model != "clinical-summary-v1" {
			t.Errorf("unexpected request %+v", body)
		}
		w.Write([]byte(`{"text":"Patient progressed well.","usage":{"total_tokens":42}}`))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(HTTPConfig{Endpoint: srv.URL, APIKey: "secret", Model: "clinical-summary-v1", Timeout: time.Second})
	resp, err := g.Generate(context.Background(), Request{ContentType: "treatment_summary", Context: map[string]int{"notes": 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "Patient progressed well." || resp.TokensUsed != 42 {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Model != "clinical-summary-v1" {
		t.Errorf("expected configured model as fallback, got %q", resp.Model)
	}
}

func TestHTTPGenerator_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}, ErrUnavailable},
		{"empty text", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"text":"   "}`))
		}, ErrUnavailable},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{`))
		}, ErrUnavailable},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		}, ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			g := NewHTTPGenerator(HTTPConfig{Endpoint: srv.URL, Timeout: 100 * time.Millisecond})
			_, err := g.Generate(context.Background(), Request{ContentType: "medical_history"})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestHTTPGenerator_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := NewHTTPGenerator(HTTPConfig{Endpoint: url, Timeout: time.Second})
	if _, err := g.Generate(context.Background(), Request{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPGenerator_Pacing(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(HTTPConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond, RPS: 1})
	if _, err := g.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// The second token is a full second away, beyond the call timeout.
	if _, err := g.Generate(context.Background(), Request{}); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected paced call to time out, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}
}

type summarized struct{ Notes int }

func (s summarized) Summary() string { return "3 treatment notes" }

func TestOfflineGenerator_Deterministic(t *testing.T) {
	g := OfflineGenerator{}
	req := Request{ContentType: "treatment_summary", Context: summarized{Notes: 3}}

	a, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := g.Generate(context.Background(), req)
	if a.Text != b.Text {
		t.Error("expected identical text for identical context")
	}
	if !strings.Contains(a.Text, "3 treatment notes") || !strings.Contains(a.Text, "treatment summary") {
		t.Errorf("unexpected text %q", a.Text)
	}

	c, _ := g.Generate(context.Background(), Request{ContentType: "treatment_summary", Context: summarized{Notes: 4}})
	if c.Text == a.Text {
		t.Error("expected a different reference for a different context")
	}
	if a.Model != OfflineModel {
		t.Errorf("unexpected model %q", a.Model)
	}
}

func TestOfflineGenerator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (OfflineGenerator{}).Generate(ctx, Request{}); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}
