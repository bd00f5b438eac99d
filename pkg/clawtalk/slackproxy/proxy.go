// Package slackproxy implements SlackEventProxy: the public HTTPS front
// door that verifies Slack's request signature, classifies each event as
// handled-by-a-Talk or forward-to-host, and always acknowledges Slack
// within its 3-second window.
package slackproxy

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/ingress"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/routing"
)

const (
	maxBodyBytes      = 512 * 1024
	signatureWindow   = 5 * time.Minute
	forwardMaxRetries = 2
	forwardBackoff    = 500 * time.Millisecond
)

// rawEvent mirrors the subset of Slack's Events API payload this proxy inspects.
type rawEvent struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	TeamID    string `json:"team_id"`
	Event     struct {
		Type      string `json:"type"`
		Subtype   string `json:"subtype"`
		BotID     string `json:"bot_id"`
		Channel   string `json:"channel"`
		User      string `json:"user"`
		Text      string `json:"text"`
		TS        string `json:"ts"`
		ThreadTS  string `json:"thread_ts"`
	} `json:"event"`
}

// Forwarder resolves and performs the outbound forward to the host.
type Forwarder interface {
	// WebhookURL resolves the host webhook URL for an account.
	WebhookURL(accountID string) string
}

// Proxy is the SlackEventProxy component.
type Proxy struct {
	Secrets    SecretResolver
	Ingress    *ingress.Ingress
	Forwarder  Forwarder
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New constructs a Proxy with sane defaults.
func New(secrets SecretResolver, ig *ingress.Ingress, fwd Forwarder, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		Secrets:    secrets,
		Ingress:    ig,
		Forwarder:  fwd,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Logger:     logger.With("component", "slackproxy"),
	}
}

// ServeHTTP implements POST /slack/events (spec.md §6).
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "read failed"})
		return
	}
	if len(body) > maxBodyBytes {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "body too large"})
		return
	}

	sig := r.Header.Get("x-slack-signature")
	tsHeader := r.Header.Get("x-slack-request-timestamp")

	accountID, ok := p.verify(sig, tsHeader, body)
	if !ok {
		if len(p.Secrets.Candidates()) == 0 {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "no signing secret configured"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var ev rawEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "malformed body"})
		return
	}

	switch {
	case ev.Type == "url_verification":
		writeJSON(w, http.StatusOK, map[string]any{"challenge": ev.Challenge})
		return

	case ev.Type != "event_callback":
		go p.forward(accountID, r, body)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "forwarded": true})
		return

	case ev.Event.BotID != "" || ev.Event.Subtype == "bot_message":
		go p.forward(accountID, r, body)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "skipped": "bot_message"})
		return

	case ev.Event.Type == "message" || ev.Event.Type == "app_mention":
		sev := routing.SlackEvent{
			AccountID:      accountID,
			ChannelID:      ev.Event.Channel,
			ThreadTS:       ev.Event.ThreadTS,
			MessageTS:      ev.Event.TS,
			UserID:         ev.Event.User,
			OutboundTarget: ev.Event.Channel,
			Text:           ev.Event.Text,
		}
		// Ingress.Process always returns pass (spec.md §4.5): the owner
		// Talk's reply, if any, comes from the host's managed agent, so
		// this path always forwards too.
		res := p.Ingress.Process(sev)
		go p.forward(accountID, r, body)
		resp := map[string]any{"ok": true, "routed": "openclaw"}
		if res.Decision.TalkID != "" {
			resp["talkId"] = res.Decision.TalkID
		}
		writeJSON(w, http.StatusOK, resp)
		return

	default:
		go p.forward(accountID, r, body)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "forwarded": true})
	}
}

// verify implements spec.md §4.4's multi-secret HMAC verification with a
// ±5-minute timestamp window and constant-time comparison.
func (p *Proxy) verify(sig, tsHeader string, body []byte) (accountID string, ok bool) {
	if sig == "" || tsHeader == "" {
		return "", false
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return "", false
	}
	age := time.Since(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > signatureWindow {
		return "", false
	}

	base := fmt.Sprintf("v0:%s:%s", tsHeader, body)
	for _, cand := range p.Secrets.Candidates() {
		mac := hmac.New(sha256.New, []byte(cand.Value))
		mac.Write([]byte(base))
		expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1 {
			return cand.AccountID, true
		}
	}
	return "", false
}

// forward relays the raw event to the host webhook, preserving the three
// Slack headers, retrying up to forwardMaxRetries times on transport
// failure or 5xx with linear backoff (spec.md §4.4).
func (p *Proxy) forward(accountID string, orig *http.Request, body []byte) {
	url := p.Forwarder.WebhookURL(accountID)
	if url == "" {
		p.Logger.Warn("no webhook url resolved for forward", "accountId", accountID)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= forwardMaxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("content-type", orig.Header.Get("content-type"))
		req.Header.Set("x-slack-signature", orig.Header.Get("x-slack-signature"))
		req.Header.Set("x-slack-request-timestamp", orig.Header.Get("x-slack-request-timestamp"))

		resp, err := p.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return
			}
			lastErr = fmt.Errorf("host responded %d", resp.StatusCode)
		}

		if attempt < forwardMaxRetries {
			time.Sleep(forwardBackoff * time.Duration(attempt+1))
		}
	}
	p.Logger.Warn("forward to host exhausted retries", "accountId", accountID, "error", lastErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
