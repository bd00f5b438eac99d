// Package gateway wires SlackEventProxy, the ingress API, and the host's
// hook bindings (message_received, before_agent_start) onto one HTTP mux.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/dispatcher"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/ingress"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/routing"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/scheduler"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/slackproxy"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

// Config controls the gateway's listen address.
type Config struct {
	Address string
}

// Gateway is ClawTalkGateway's HTTP surface.
type Gateway struct {
	store      *talkstore.Store
	proxy      *slackproxy.Proxy
	ingress    *ingress.Ingress
	dispatcher *dispatcher.Dispatcher
	config     Config
	server     *http.Server
	logger     *slog.Logger
	startedAt  time.Time
}

// New constructs a Gateway.
func New(store *talkstore.Store, proxy *slackproxy.Proxy, ig *ingress.Ingress, disp *dispatcher.Dispatcher, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8085"
	}
	return &Gateway{
		store:      store,
		proxy:      proxy,
		ingress:    ig,
		dispatcher: disp,
		config:     cfg,
		logger:     logger.With("component", "gateway"),
	}
}

// Start binds the mux and begins serving. Non-blocking: the server runs in
// its own goroutine, matching the host's own gateway bootstrap idiom.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	mux := http.NewServeMux()

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/slack/events", g.proxy.ServeHTTP)
	mux.HandleFunc("/api/events/slack", g.handleIngressAPI)
	mux.HandleFunc("/hooks/message_received", g.handleMessageReceived)
	mux.HandleFunc("/hooks/before_agent_start", g.handleBeforeAgentStart)

	handler := g.securityHeadersMiddleware(mux)
	g.server = &http.Server{Addr: g.config.Address, Handler: handler}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", g.config.Address)
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}

func (g *Gateway) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "uptime": time.Since(g.startedAt).String()})
}

// ingressRequest mirrors spec.md §6's /api/events/slack body.
type ingressRequest struct {
	EventID        string `json:"eventId"`
	AccountID      string `json:"accountId"`
	ChannelID      string `json:"channelId"`
	ChannelName    string `json:"channelName"`
	ThreadTS       string `json:"threadTs"`
	MessageTS      string `json:"messageTs"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	OutboundTarget string `json:"outboundTarget"`
	Text           string `json:"text"`
}

func (g *Gateway) handleIngressAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
		return
	}
	var req ingressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "malformed body"})
		return
	}

	res := g.ingress.Process(routing.SlackEvent{
		EventID:        req.EventID,
		AccountID:      req.AccountID,
		ChannelID:      req.ChannelID,
		ChannelName:    req.ChannelName,
		ThreadTS:       req.ThreadTS,
		MessageTS:      req.MessageTS,
		UserID:         req.UserID,
		UserName:       req.UserName,
		OutboundTarget: req.OutboundTarget,
		Text:           req.Text,
	})

	resp := map[string]any{"decision": decisionLabel(res)}
	if res.Decision.Reason != "" {
		resp["reason"] = res.Decision.Reason
	}
	if res.Decision.TalkID != "" {
		resp["talkId"] = res.Decision.TalkID
	}
	if res.Duplicate {
		resp["duplicate"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func decisionLabel(res ingress.Result) string {
	if res.Decision.Handled {
		return "handled"
	}
	return "pass"
}

// messageReceivedHook mirrors the host's fire-and-forget message_received
// hook payload: the event body plus a ctx with the originating platform
// name in channelId (spec.md §4.6).
type messageReceivedHook struct {
	ChannelID   string `json:"channelId"`
	From        string `json:"from"`
	Content     string `json:"content"`
	PlatformCtx struct {
		ChannelID string `json:"channelId"`
	} `json:"ctx"`
}

func (g *Gateway) handleMessageReceived(w http.ResponseWriter, r *http.Request) {
	var hook messageReceivedHook
	if err := json.NewDecoder(r.Body).Decode(&hook); err == nil {
		platform := hook.PlatformCtx.ChannelID
		if platform == "" {
			platform = hook.ChannelID
		}
		go g.dispatcher.HandleMessageReceived(context.WithoutCancel(r.Context()), dispatcher.Event{
			ChannelID: platform,
			From:      hook.From,
			Content:   hook.Content,
		})
	} else {
		g.logger.Warn("malformed message_received hook body", "error", err)
	}
	// Fire-and-forget: the host ignores the return value.
	writeJSON(w, http.StatusOK, map[string]any{})
}

type beforeAgentStartRequest struct {
	AgentID string `json:"agentId"`
}

func (g *Gateway) handleBeforeAgentStart(w http.ResponseWriter, r *http.Request) {
	var req beforeAgentStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "malformed body"})
		return
	}
	if !strings.HasPrefix(req.AgentID, "ct-") {
		writeJSON(w, http.StatusOK, map[string]any{"block": ""})
		return
	}

	var talk *talkstore.Talk
	for _, t := range g.store.List() {
		if scheduler.ManagedAgentID(t.ID) == req.AgentID {
			talk = t
			break
		}
	}
	if talk == nil {
		writeJSON(w, http.StatusOK, map[string]any{"block": ""})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"block": buildTalkContextBlock(g.store, talk)})
}

// buildTalkContextBlock assembles the ~2KB instructions/objective/rules/
// context.md/pins/state-paths block the host injects before a managed
// agent starts (spec.md §6).
func buildTalkContextBlock(store *talkstore.Store, talk *talkstore.Talk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Talk: %s\n\n", displayOr(talk.TopicTitle, talk.ID))
	if talk.Objective != "" {
		fmt.Fprintf(&b, "## Objective\n%s\n\n", talk.Objective)
	}

	var active []string
	for _, d := range talk.Directives {
		if d.Active {
			active = append(active, d.Text)
		}
	}
	if len(active) > 0 {
		b.WriteString("## Rules\n")
		for _, rule := range active {
			fmt.Fprintf(&b, "- %s\n", rule)
		}
		b.WriteString("\n")
	}

	if ctx := store.GetContext(talk.ID); ctx != "" {
		fmt.Fprintf(&b, "## Context\n%s\n\n", ctx)
	}

	if len(talk.PinnedMessageIDs) > 0 {
		b.WriteString("## Pinned messages\n")
		pinned := pinnedMessages(store, talk)
		for _, m := range pinned {
			fmt.Fprintf(&b, "- [%s] %s\n", m.Role, truncate(m.Content, 200))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## State paths\nhistory: talks/%s/history.jsonl\nreports: talks/%s/reports.jsonl\n", talk.ID, talk.ID)
	return b.String()
}

func pinnedMessages(store *talkstore.Store, talk *talkstore.Talk) []talkstore.Message {
	pinned := make(map[string]bool, len(talk.PinnedMessageIDs))
	for _, id := range talk.PinnedMessageIDs {
		pinned[id] = true
	}
	var out []talkstore.Message
	for _, m := range store.GetMessages(talk.ID) {
		if pinned[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func displayOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
