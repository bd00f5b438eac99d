package routing

import "testing"

// TestDedupReplayReturnsOriginal verifies property P3.
func TestDedupReplayReturnsOriginal(t *testing.T) {
	d := NewDedupTable(0)
	calls := 0
	mk := func() Decision {
		calls++
		return Decision{Handled: true, TalkID: "talk1"}
	}

	dec1, dup1 := d.GetOrInsert("e1", mk)
	if dup1 {
		t.Fatalf("first insert should not be a duplicate")
	}
	dec2, dup2 := d.GetOrInsert("e1", mk)
	if !dup2 {
		t.Fatalf("replay should be a duplicate")
	}
	if dec1 != dec2 {
		t.Fatalf("replay decision mismatch: %+v vs %+v", dec1, dec2)
	}
	if calls != 1 {
		t.Fatalf("decision func should only run once, ran %d times", calls)
	}
}

func TestEventIDFormat(t *testing.T) {
	got := EventID("", "C123", "", "T456", "")
	want := "slack:default:c123:T456:unknown"
	if got != want {
		t.Fatalf("EventID = %q, want %q", got, want)
	}
}
