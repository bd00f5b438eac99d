package toolpolicy

import (
	"testing"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

func baseTalk() *talkstore.Talk {
	return &talkstore.Talk{
		ExecutionMode:    talkstore.ExecutionModeOpenClaw,
		FilesystemAccess: talkstore.FilesystemSandbox,
		NetworkAccess:    talkstore.NetworkRestricted,
		ToolMode:         talkstore.ToolModeAuto,
	}
}

func contains(tools []string, name string) bool {
	for _, t := range tools {
		if t == name {
			return true
		}
	}
	return false
}

func TestResolveToolModeOffYieldsNoTools(t *testing.T) {
	talk := baseTalk()
	talk.ToolMode = talkstore.ToolModeOff
	if got := Resolve(talk); len(got) != 0 {
		t.Fatalf("expected no tools, got %v", got)
	}
}

func TestResolveSandboxedTalkExcludesWriteAndBash(t *testing.T) {
	talk := baseTalk()
	got := Resolve(talk)
	if contains(got, "write_file") || contains(got, "edit_file") {
		t.Fatalf("expected no write tools for sandboxed talk, got %v", got)
	}
	if contains(got, "bash") || contains(got, "exec") {
		t.Fatalf("expected no runtime tools for restricted-network talk, got %v", got)
	}
	if !contains(got, "read_file") {
		t.Fatalf("expected read_file to remain admitted, got %v", got)
	}
}

func TestResolveFullControlAdmitsWriteAndRuntime(t *testing.T) {
	talk := baseTalk()
	talk.ExecutionMode = talkstore.ExecutionModeFullControl
	talk.FilesystemAccess = talkstore.FilesystemFullHost
	talk.NetworkAccess = talkstore.NetworkFullOutbound
	got := Resolve(talk)
	if !contains(got, "write_file") || !contains(got, "edit_file") {
		t.Fatalf("expected write tools admitted under full control, got %v", got)
	}
	if !contains(got, "bash") || !contains(got, "exec") {
		t.Fatalf("expected runtime tools admitted under full control, got %v", got)
	}
}

func TestResolveToolsAllowNarrowsToGroup(t *testing.T) {
	talk := baseTalk()
	talk.ToolsAllow = []string{"group:fs"}
	got := Resolve(talk)
	if contains(got, "web_search") {
		t.Fatalf("expected non-fs tools excluded by allow list, got %v", got)
	}
	if !contains(got, "read_file") {
		t.Fatalf("expected read_file admitted via group:fs, got %v", got)
	}
}

func TestResolveToolsAllowWildcardPrefix(t *testing.T) {
	talk := baseTalk()
	talk.ToolsAllow = []string{"web_*"}
	got := Resolve(talk)
	if !contains(got, "web_search") || !contains(got, "web_fetch") {
		t.Fatalf("expected web_* tools admitted, got %v", got)
	}
	if contains(got, "read_file") {
		t.Fatalf("expected non-web tools excluded, got %v", got)
	}
}

func TestResolveToolsDenyWinsOverAllow(t *testing.T) {
	talk := baseTalk()
	talk.ToolsAllow = []string{"group:fs"}
	talk.ToolsDeny = []string{"search_files"}
	got := Resolve(talk)
	if contains(got, "search_files") {
		t.Fatalf("expected search_files denied despite allow list, got %v", got)
	}
	if !contains(got, "read_file") {
		t.Fatalf("expected read_file still admitted, got %v", got)
	}
}

func TestResolveDenyIsCaseInsensitive(t *testing.T) {
	talk := baseTalk()
	talk.ToolsDeny = []string{"READ_FILE"}
	got := Resolve(talk)
	if contains(got, "read_file") {
		t.Fatalf("expected case-insensitive deny to strip read_file, got %v", got)
	}
}
