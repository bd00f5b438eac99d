package talkstore

import "strings"

// NormalizeExecutionMode migrates legacy values and defaults unknowns to openclaw.
// Idempotent: NormalizeExecutionMode(NormalizeExecutionMode(x)) == NormalizeExecutionMode(x).
func NormalizeExecutionMode(v string) ExecutionMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "full_control", "unsandboxed":
		return ExecutionModeFullControl
	case "openclaw", "sandboxed", "inherit", "":
		return ExecutionModeOpenClaw
	default:
		return ExecutionModeOpenClaw
	}
}

func NormalizeFilesystemAccess(v string) FilesystemAccess {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "full_host_access":
		return FilesystemFullHost
	default:
		return FilesystemSandbox
	}
}

func NormalizeNetworkAccess(v string) NetworkAccess {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "full_outbound":
		return NetworkFullOutbound
	default:
		return NetworkRestricted
	}
}

func NormalizeToolMode(v string) ToolMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "confirm":
		return ToolModeConfirm
	case "auto":
		return ToolModeAuto
	default:
		return ToolModeOff
	}
}

func NormalizePermission(v string) (Permission, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "read":
		return PermissionRead, true
	case "write":
		return PermissionWrite, true
	case "read+write":
		return PermissionReadWrite, true
	default:
		return "", false
	}
}

func NormalizeResponseMode(v string) ResponseMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "mentions":
		return ResponseModeMentions
	case "all":
		return ResponseModeAll
	default:
		return ResponseModeOff
	}
}

func NormalizeMirrorMode(v string) MirrorMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "inbound":
		return MirrorInbound
	case "full":
		return MirrorFull
	default:
		return MirrorOff
	}
}

func NormalizeDeliveryMode(v string) DeliveryMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "channel":
		return DeliveryChannel
	case "adaptive":
		return DeliveryAdaptive
	default:
		return DeliveryThread
	}
}

func NormalizeTriggerPolicy(v string) TriggerPolicy {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "study_entries_only":
		return TriggerStudyOnly
	case "advice_or_study":
		return TriggerAdviceOrStudy
	default:
		return TriggerJudgment
	}
}

// NormalizeToolNames filters a list through the tool-name regex and
// deduplicates case-insensitively, preserving first-seen order.
func NormalizeToolNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || !toolNamePattern.MatchString(n) {
			continue
		}
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

// NormalizeBindings drops bindings with unparseable permission or missing
// required fields, canonicalizing scope case/kind along the way.
func NormalizeBindings(raw []Binding) []Binding {
	out := make([]Binding, 0, len(raw))
	for _, b := range raw {
		if b.ID == "" || b.Platform == "" {
			continue
		}
		perm, ok := NormalizePermission(string(b.Permission))
		if !ok {
			continue
		}
		b.Permission = perm
		b.Scope = CanonicalizeScope(b.Scope)
		out = append(out, b)
	}
	return out
}

// CanonicalizeScope lowercases scope and canonicalizes channel:/user: kind prefixes.
func CanonicalizeScope(scope string) string {
	scope = strings.TrimSpace(scope)
	lower := strings.ToLower(scope)
	if strings.HasPrefix(lower, "channel:") || strings.HasPrefix(lower, "user:") {
		parts := strings.SplitN(scope, ":", 2)
		if len(parts) == 2 {
			return strings.ToLower(parts[0]) + ":" + strings.ToLower(strings.TrimSpace(parts[1]))
		}
	}
	return lower
}

// NormalizeBehaviors drops any Behavior whose PlatformBindingID does not
// resolve against bindings (spec.md invariant I1) and normalizes its enums.
func NormalizeBehaviors(raw []Behavior, bindings []Binding) []Behavior {
	validIDs := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		validIDs[b.ID] = true
	}
	out := make([]Behavior, 0, len(raw))
	for _, beh := range raw {
		if beh.ID == "" || !validIDs[beh.PlatformBindingID] {
			continue
		}
		beh.ResponseMode = NormalizeResponseMode(string(beh.ResponseMode))
		beh.MirrorToTalk = NormalizeMirrorMode(string(beh.MirrorToTalk))
		beh.DeliveryMode = NormalizeDeliveryMode(string(beh.DeliveryMode))
		if beh.ResponsePolicy != nil {
			beh.ResponsePolicy.TriggerPolicy = NormalizeTriggerPolicy(string(beh.ResponsePolicy.TriggerPolicy))
		}
		out = append(out, beh)
	}
	return out
}

// NormalizeDirectives drops directives missing required fields.
func NormalizeDirectives(raw []Directive) []Directive {
	out := make([]Directive, 0, len(raw))
	for _, d := range raw {
		if d.ID == "" || d.Text == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}

// NormalizeJobs drops jobs missing required fields and normalizes their type.
func NormalizeJobs(raw []Job) []Job {
	out := make([]Job, 0, len(raw))
	for _, j := range raw {
		if j.ID == "" || j.Schedule == "" {
			continue
		}
		switch j.Type {
		case JobOnce, JobRecurring, JobEvent:
		default:
			continue
		}
		if j.Output.Type == "" {
			j.Output.Type = OutputReportOnly
		}
		out = append(out, j)
	}
	return out
}

// NormalizeTalk applies every load-time normalization rule in one pass:
// legacy migration, behavior-binding consistency (I1), tool-list filtering.
func NormalizeTalk(t *Talk) {
	t.ExecutionMode = NormalizeExecutionMode(string(t.ExecutionMode))
	t.FilesystemAccess = NormalizeFilesystemAccess(string(t.FilesystemAccess))
	t.NetworkAccess = NormalizeNetworkAccess(string(t.NetworkAccess))
	t.ToolMode = NormalizeToolMode(string(t.ToolMode))
	t.ToolsAllow = NormalizeToolNames(t.ToolsAllow)
	t.ToolsDeny = NormalizeToolNames(t.ToolsDeny)
	t.PlatformBindings = NormalizeBindings(t.PlatformBindings)
	t.PlatformBehaviors = NormalizeBehaviors(t.PlatformBehaviors, t.PlatformBindings)
	t.Directives = NormalizeDirectives(t.Directives)
	t.Jobs = NormalizeJobs(t.Jobs)
}
