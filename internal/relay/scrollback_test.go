package relay

import "testing"

func TestScrollbackCap(t *testing.T) {
	var sb scrollback
	chunk := make([]byte, 70000)
	for i := range chunk {
		chunk[i] = 'a'
	}
	sb.append(chunk)

	if sb.len() != ScrollbackCap {
		t.Fatalf("expected len %d, got %d", ScrollbackCap, sb.len())
	}
	for _, b := range sb.bytes() {
		if b != 'a' {
			t.Fatalf("expected only 'a' bytes after trim")
		}
	}
}

func TestScrollbackKeepsTail(t *testing.T) {
	var sb scrollback
	sb.append([]byte("AAA"))
	sb.append([]byte("BBB"))

	if got := string(sb.bytes()); got != "AAABBB" {
		t.Fatalf("expected AAABBB, got %q", got)
	}
}

func TestScrollbackTrimsFromFront(t *testing.T) {
	var sb scrollback
	first := make([]byte, ScrollbackCap)
	for i := range first {
		first[i] = 'x'
	}
	sb.append(first)
	sb.append([]byte("tail"))

	if sb.len() != ScrollbackCap {
		t.Fatalf("expected len to stay at cap, got %d", sb.len())
	}
	got := sb.bytes()
	if string(got[len(got)-4:]) != "tail" {
		t.Fatalf("expected buffer to end with tail, got %q", string(got[len(got)-10:]))
	}
}
