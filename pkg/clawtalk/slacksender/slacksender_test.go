package slacksender

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMissingTokenFails(t *testing.T) {
	s := New(map[string]string{})
	if err := s.Send("acct1", "C1", "", "hi"); err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestSendPostsThreadedMessage(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	s := New(map[string]string{"acct1": "xoxb-test"})
	s.HTTP = srv.Client()
	s.BaseURL = srv.URL + "/"

	if err := s.Send("acct1", "C1", "ts123", "hello thread"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer xoxb-test" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody["thread_ts"] != "ts123" {
		t.Fatalf("expected thread_ts forwarded, got %+v", gotBody)
	}
}

func TestSendSurfacesSlackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()

	s := New(map[string]string{"acct1": "xoxb-test"})
	s.HTTP = srv.Client()
	s.BaseURL = srv.URL + "/"

	err := s.Send("acct1", "C1", "", "hi")
	if err == nil {
		t.Fatal("expected error surfaced from slack response")
	}
}
