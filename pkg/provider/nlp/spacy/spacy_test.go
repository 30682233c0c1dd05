package spacy_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/nlp/spacy"
)

// TestNew_EmptyModel verifies that constructing a Provider with an empty
// model name returns an error.
func TestNew_EmptyModel(t *testing.T) {
	if _, err := spacy.New("", ""); err == nil {
		t.Fatal("expected error for empty model, got nil")
	}
}

// TestNounPhrases verifies request shape and response decoding.
func TestNounPhrases(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chunks" {
			t.Errorf("unexpected path: got %q, want /chunks", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text != "progressive overload for beginners" {
			t.Errorf("text: got %q", req.Text)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chunks": []map[string]any{
				{"text": "progressive overload", "lemma": "progressive overload", "start_char": 0, "end_char": 20},
				{"text": "beginners", "lemma": "beginner", "start_char": 25, "end_char": 34},
			},
		})
	}))
	defer srv.Close()

	p, err := spacy.New(srv.URL, "en_core_web_sm")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	phrases, err := p.NounPhrases(context.Background(), "progressive overload for beginners")
	if err != nil {
		t.Fatalf("NounPhrases: %v", err)
	}
	if len(phrases) != 2 {
		t.Fatalf("got %d phrases, want 2", len(phrases))
	}
	if phrases[0].Text != "progressive overload" || phrases[0].EndChar != 20 {
		t.Errorf("unexpected first phrase: %+v", phrases[0])
	}
	if phrases[1].Lemma != "beginner" {
		t.Errorf("lemma: got %q, want %q", phrases[1].Lemma, "beginner")
	}
}

// TestNounPhrases_ServerError verifies that a non-200 status maps to a
// transient network fault.
func TestNounPhrases_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := spacy.New(srv.URL, "en_core_web_sm")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.NounPhrases(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error for 503 response, got nil")
	}
	if kind := faults.KindOf(err); kind != faults.Network {
		t.Errorf("KindOf = %v, want %v", kind, faults.Network)
	}
}

// TestPing verifies /health probing for both outcomes.
func TestPing(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path: %q", r.URL.Path)
		}
		if !healthy {
			http.Error(w, "loading", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := spacy.New(srv.URL, "en_core_web_sm")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping on healthy sidecar: %v", err)
	}
	healthy = false
	if err := p.Ping(context.Background()); err == nil {
		t.Error("Ping on unhealthy sidecar should fail")
	}
}

// TestPing_Unreachable verifies that an unreachable sidecar errors promptly.
func TestPing_Unreachable(t *testing.T) {
	p, err := spacy.New("http://127.0.0.1:19999", "en_core_web_sm",
		spacy.WithTimeout(500*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected error for unreachable sidecar, got nil")
	}
}

// TestEngineID verifies the engine identifier format.
func TestEngineID(t *testing.T) {
	p, err := spacy.New("", "en_core_web_sm")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.EngineID(); got != "spacy:en_core_web_sm" {
		t.Errorf("EngineID() = %q, want %q", got, "spacy:en_core_web_sm")
	}
}
