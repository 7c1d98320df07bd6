package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompleteSendsBearerAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"model":"m"}` {
			t.Errorf("unexpected body %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp_1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test")
	data, err := c.Complete(context.Background(), []byte(`{"model":"m"}`))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if string(data) != `{"id":"resp_1"}` {
		t.Fatalf("unexpected response %s", data)
	}
}

func TestCompleteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Complete(context.Background(), []byte(`{}`))
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestCompleteMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"broken":`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if _, err := c.Complete(context.Background(), []byte(`{}`)); err == nil {
		t.Fatalf("expected malformed JSON error")
	}
}

func TestCompleteStreamSetsAccept(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("unexpected accept header %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"a\":1}\n\n"))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "")
	rc, err := c.CompleteStream(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer func() { _ = rc.Close() }()
	data, _ := io.ReadAll(rc)
	if !strings.Contains(string(data), `{"a":1}`) {
		t.Fatalf("unexpected stream body %q", data)
	}
}

func TestCompleteStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if _, err := c.CompleteStream(context.Background(), []byte(`{}`)); err == nil {
		t.Fatalf("expected error for 503")
	}
}
