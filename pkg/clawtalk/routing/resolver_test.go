package routing

import (
	"testing"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

func writeTalk(binding talkstore.Binding, behavior *talkstore.Behavior) *talkstore.Talk {
	t := &talkstore.Talk{ID: "talk1", PlatformBindings: []talkstore.Binding{binding}}
	if behavior != nil {
		t.PlatformBehaviors = []talkstore.Behavior{*behavior}
	}
	return t
}

// TestResolveS1 mirrors spec.md §8 scenario S1: delegated channel, no mirror.
func TestResolveS1DelegatedNoMirror(t *testing.T) {
	binding := talkstore.Binding{ID: "b1", Platform: "slack", Scope: "channel:c123", Permission: talkstore.PermissionWrite}
	behavior := &talkstore.Behavior{ID: "beh1", PlatformBindingID: "b1", ResponseMode: talkstore.ResponseModeAll}
	talks := []*talkstore.Talk{writeTalk(binding, behavior)}

	ev := SlackEvent{EventID: "e1", ChannelID: "C123", Text: "hello"}
	dec := Resolve(ev, talks)

	if !dec.Handled {
		t.Fatalf("expected handled, got %+v", dec)
	}
	if dec.TalkID != "talk1" {
		t.Fatalf("expected talk1, got %q", dec.TalkID)
	}
}

// TestResolveS3 mirrors scenario S3: unbound channel.
func TestResolveS3Unbound(t *testing.T) {
	binding := talkstore.Binding{ID: "b1", Platform: "slack", Scope: "channel:c123", Permission: talkstore.PermissionWrite}
	talks := []*talkstore.Talk{writeTalk(binding, nil)}

	ev := SlackEvent{ChannelID: "C999", Text: "hello"}
	dec := Resolve(ev, talks)

	if dec.Handled {
		t.Fatalf("expected pass, got handled: %+v", dec)
	}
	if dec.Reason != ReasonNoBinding {
		t.Fatalf("expected no-binding, got %q", dec.Reason)
	}
}

func TestResolveAmbiguousTie(t *testing.T) {
	b1 := talkstore.Binding{ID: "b1", Platform: "slack", Scope: "channel:c1", Permission: talkstore.PermissionWrite}
	b2 := talkstore.Binding{ID: "b2", Platform: "slack", Scope: "channel:c1", Permission: talkstore.PermissionWrite}
	talks := []*talkstore.Talk{
		writeTalk(b1, &talkstore.Behavior{ID: "beh1", PlatformBindingID: "b1", ResponseMode: talkstore.ResponseModeAll}),
		{ID: "talk2", PlatformBindings: []talkstore.Binding{b2}, PlatformBehaviors: []talkstore.Behavior{{ID: "beh2", PlatformBindingID: "b2", ResponseMode: talkstore.ResponseModeAll}}},
	}

	dec := Resolve(SlackEvent{ChannelID: "C1"}, talks)
	if dec.Handled || dec.Reason != ReasonAmbiguousBinding {
		t.Fatalf("expected ambiguous-binding, got %+v", dec)
	}
}

func TestResolveMentionRequired(t *testing.T) {
	binding := talkstore.Binding{ID: "b1", Platform: "slack", Scope: "channel:c123", Permission: talkstore.PermissionWrite}
	behavior := &talkstore.Behavior{ID: "beh1", PlatformBindingID: "b1", ResponseMode: talkstore.ResponseModeMentions}
	talks := []*talkstore.Talk{writeTalk(binding, behavior)}

	dec := Resolve(SlackEvent{ChannelID: "C123", Text: "no mention here"}, talks)
	if dec.Handled || dec.Reason != ReasonMentionRequired {
		t.Fatalf("expected mention-required, got %+v", dec)
	}

	dec = Resolve(SlackEvent{ChannelID: "C123", Text: "hey <@U123> look"}, talks)
	if !dec.Handled {
		t.Fatalf("expected handled with mention present, got %+v", dec)
	}
}

// TestResolvePure verifies property P5.
func TestResolvePure(t *testing.T) {
	binding := talkstore.Binding{ID: "b1", Platform: "slack", Scope: "channel:c123", Permission: talkstore.PermissionWrite}
	behavior := &talkstore.Behavior{ID: "beh1", PlatformBindingID: "b1", ResponseMode: talkstore.ResponseModeAll}
	talks := []*talkstore.Talk{writeTalk(binding, behavior)}
	ev := SlackEvent{ChannelID: "C123", Text: "hello"}

	d1 := Resolve(ev, talks)
	d2 := Resolve(ev, talks)
	if d1 != d2 {
		t.Fatalf("Resolve not pure: %+v vs %+v", d1, d2)
	}
}

func TestWildcardScopeLowScore(t *testing.T) {
	specific := talkstore.Binding{ID: "b1", Platform: "slack", Scope: "channel:c123", Permission: talkstore.PermissionWrite}
	wildcard := talkstore.Binding{ID: "b2", Platform: "slack", Scope: "*", Permission: talkstore.PermissionWrite}
	talks := []*talkstore.Talk{
		writeTalk(specific, &talkstore.Behavior{ID: "beh1", PlatformBindingID: "b1", ResponseMode: talkstore.ResponseModeAll}),
		{ID: "talk2", PlatformBindings: []talkstore.Binding{wildcard}, PlatformBehaviors: []talkstore.Behavior{{ID: "beh2", PlatformBindingID: "b2", ResponseMode: talkstore.ResponseModeAll}}},
	}

	dec := Resolve(SlackEvent{ChannelID: "C123"}, talks)
	if dec.TalkID != "talk1" {
		t.Fatalf("expected the specific-scope talk to win, got %+v", dec)
	}
}
