// Package toolpolicy computes the policy-allowed tool set for a Talk from
// its execution mode, capability flags, and explicit allow/deny lists,
// expanding "group:" and trailing-"*" wildcard entries the way the host's
// tool-profile system does.
package toolpolicy

import (
	"strings"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

// ToolGroups mirrors the coarse capability groupings a Talk's ToolsAllow/
// ToolsDeny entries may reference.
var ToolGroups = map[string][]string{
	"group:fs":        {"read_file", "write_file", "edit_file", "list_files", "search_files", "glob_files"},
	"group:web":       {"web_search", "web_fetch", "google_docs_append", "google_docs_read"},
	"group:state":     {"state_append_event", "state_read_summary", "state_query_history"},
	"group:runtime":   {"bash", "exec"},
	"group:scheduler": {"schedule_job", "list_jobs", "cancel_job"},
}

// baseCatalog is every tool a Talk could ever be offered before capability
// and allow/deny filtering.
var baseCatalog = func() []string {
	seen := make(map[string]bool)
	var out []string
	for _, group := range ToolGroups {
		for _, t := range group {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}()

// capabilityTools returns the subset of baseCatalog admitted by the Talk's
// filesystem/network/tool-mode capability flags.
func capabilityTools(t *talkstore.Talk) []string {
	var out []string
	for _, tool := range baseCatalog {
		if t.ToolMode == talkstore.ToolModeOff {
			continue
		}
		if strings.HasPrefix(tool, "write_") || tool == "edit_file" {
			if t.FilesystemAccess != talkstore.FilesystemFullHost && t.ExecutionMode != talkstore.ExecutionModeFullControl {
				continue
			}
		}
		if tool == "bash" || tool == "exec" {
			if t.NetworkAccess == talkstore.NetworkRestricted && t.ExecutionMode != talkstore.ExecutionModeFullControl {
				continue
			}
		}
		out = append(out, tool)
	}
	return out
}

// expand resolves "group:x" and trailing-"*" entries against allTools.
func expand(items, allTools []string) []string {
	var out []string
	for _, item := range items {
		switch {
		case strings.HasSuffix(item, "*"):
			prefix := strings.TrimSuffix(item, "*")
			for _, tool := range allTools {
				if strings.HasPrefix(tool, prefix) {
					out = append(out, tool)
				}
			}
		case strings.HasPrefix(item, "group:"):
			out = append(out, ToolGroups[item]...)
		case item == "*":
			out = append(out, allTools...)
		default:
			out = append(out, item)
		}
	}
	return out
}

// Resolve computes the policy-allowed tool set for a Talk (spec.md §4.7
// step 3): capability-gated catalog, narrowed by ToolsAllow (if non-empty),
// then stripped of ToolsDeny (deny always wins).
func Resolve(t *talkstore.Talk) []string {
	admitted := capabilityTools(t)

	allowed := admitted
	if len(t.ToolsAllow) > 0 {
		expandedAllow := expand(t.ToolsAllow, admitted)
		allowSet := make(map[string]bool, len(expandedAllow))
		for _, tool := range expandedAllow {
			allowSet[strings.ToLower(tool)] = true
		}
		allowed = nil
		for _, tool := range admitted {
			if allowSet[strings.ToLower(tool)] {
				allowed = append(allowed, tool)
			}
		}
	}

	if len(t.ToolsDeny) == 0 {
		return allowed
	}
	expandedDeny := expand(t.ToolsDeny, admitted)
	denySet := make(map[string]bool, len(expandedDeny))
	for _, tool := range expandedDeny {
		denySet[strings.ToLower(tool)] = true
	}
	var out []string
	for _, tool := range allowed {
		if !denySet[strings.ToLower(tool)] {
			out = append(out, tool)
		}
	}
	return out
}
