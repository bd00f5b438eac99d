// Package guard implements RoutingHeaderGuard: a pure assertion over
// outbound request headers that enforces execution-mode invariants before
// a request reaches the host.
package guard

import (
	"fmt"
	"strings"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

// Code distinguishes the two violation classes (spec.md §4.9).
type Code string

const (
	CodeForbiddenAgentHeader Code = "ROUTING_GUARD_FORBIDDEN_AGENT_HEADER"
	CodeForbiddenSessionKey  Code = "ROUTING_GUARD_FORBIDDEN_SESSION_KEY"
)

// Flow identifies which lane produced the outbound request.
type Flow string

const (
	FlowTalkChat     Flow = "talk-chat"
	FlowSlackIngress Flow = "slack-ingress"
	FlowJobScheduler Flow = "job-scheduler"
)

const (
	headerAgentID    = "x-openclaw-agent-id"
	headerSessionKey = "x-openclaw-session-key"
)

// Error is the typed, code-carrying violation RoutingHeaderGuard raises.
type Error struct {
	Code Code
	Flow Flow
	Mode talkstore.ExecutionMode
}

func (e *Error) Error() string {
	return fmt.Sprintf("guard: %s (flow=%s mode=%s)", e.Code, e.Flow, e.Mode)
}

// AssertRoutingHeaders enforces: when executionMode=full_control, neither
// x-openclaw-agent-id nor an agent:-prefixed x-openclaw-session-key may be
// present (spec.md §4.9, property P6). Header keys are matched
// case-insensitively, matching HTTP header semantics.
func AssertRoutingHeaders(flow Flow, mode talkstore.ExecutionMode, headers map[string]string) error {
	if mode != talkstore.ExecutionModeFullControl {
		return nil
	}

	for k, v := range headers {
		lk := strings.ToLower(k)
		if lk == headerAgentID && v != "" {
			return &Error{Code: CodeForbiddenAgentHeader, Flow: flow, Mode: mode}
		}
		if lk == headerSessionKey && strings.HasPrefix(v, "agent:") {
			return &Error{Code: CodeForbiddenSessionKey, Flow: flow, Mode: mode}
		}
	}
	return nil
}
