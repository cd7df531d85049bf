package fixtures

import "testing"

func TestH264StreamHasExpectedAccessUnitCount(t *testing.T) {
	stream := H264Stream(10, 3)
	// Every access unit is preceded by an AUD start code; count them.
	auds := 0
	for i := 0; i+5 < len(stream); i++ {
		if stream[i] == 0 && stream[i+1] == 0 && stream[i+2] == 0 && stream[i+3] == 1 && stream[i+4] == 0x09 {
			auds++
		}
	}
	if auds != 10 {
		t.Fatalf("got %d AUDs, want 10", auds)
	}
}

func TestFrameCountFor90KHzStream(t *testing.T) {
	if got := FrameCountFor90KHzStream(10, 30.3); got != 303 {
		t.Fatalf("got %d, want 303", got)
	}
	if got := FrameCountFor90KHzStream(0, 30); got != 1 {
		t.Fatalf("zero duration should clamp to 1, got %d", got)
	}
}
