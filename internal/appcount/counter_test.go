package appcount

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPCounter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Internal-Key") != "internal-secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/internal/applications/count" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("user_id") != "user-1" {
			http.Error(w, "unknown user", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count": 7}`))
	}))
	defer srv.Close()

	counter := NewHTTPCounter(srv.URL, "internal-secret")
	count, err := counter.CountApplications(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CountApplications: %v", err)
	}
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}
}

func TestHTTPCounterErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	counter := NewHTTPCounter(srv.URL, "internal-secret")
	if _, err := counter.CountApplications(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestFixedCounter(t *testing.T) {
	count, err := FixedCounter(3).CountApplications(context.Background(), "anyone")
	if err != nil || count != 3 {
		t.Fatalf("count=%d err=%v, want 3, nil", count, err)
	}
}
