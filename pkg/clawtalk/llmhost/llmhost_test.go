package llmhost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInvokeSendsHeadersAndParsesResponse(t *testing.T) {
	var gotHeader string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("x-openclaw-session-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"output": "hi there", "model": "gpt"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Invoke(context.Background(), Request{
		SessionKey: "job:t1:j1",
		Prompt:     "hello",
		Model:      "gpt",
		Headers:    map[string]string{"x-openclaw-session-key": "job:t1:j1"},
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Output != "hi there" || resp.Model != "gpt" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gotHeader != "job:t1:j1" {
		t.Fatalf("expected session-key header forwarded, got %q", gotHeader)
	}
	if gotBody["prompt"] != "hello" {
		t.Fatalf("expected prompt in body, got %+v", gotBody)
	}
}

func TestInvokeSurfacesHostError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Invoke(context.Background(), Request{SessionKey: "job:t1:j1", Prompt: "hi"}, time.Second)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestInvokeTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Invoke(context.Background(), Request{SessionKey: "job:t1:j1", Prompt: "hi"}, 5*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
