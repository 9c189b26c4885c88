package stream

import (
	"strings"
	"testing"
)

func TestPushSplitsAtSentenceBoundary(t *testing.T) {
	tr := NewTransform(nil, 0)

	first := tr.Push([]byte("Hello. World! Ho"))
	if strings.TrimSpace(first) != "Hello. World!" {
		t.Fatalf("first emission = %q, want %q", first, "Hello. World!")
	}

	if got := tr.Push([]byte("w are you?")); got != "" {
		t.Fatalf("no boundary yet, got emission %q", got)
	}

	final := tr.Flush()
	if final != "How are you?" {
		t.Fatalf("final emission = %q, want %q", final, "How are you?")
	}
	if tr.Pending() {
		t.Fatalf("nothing should remain after flush")
	}
}

func TestPushHoldsIncompleteSentence(t *testing.T) {
	tr := NewTransform(nil, 0)

	if got := tr.Push([]byte("this has no ending yet")); got != "" {
		t.Fatalf("unexpected emission %q", got)
	}
	if !tr.Pending() {
		t.Fatalf("text should be buffered")
	}
}

func TestPushForceFlushesOverLimit(t *testing.T) {
	tr := NewTransform(nil, 40)

	long := strings.Repeat("word ", 20) // 100 chars, no sentence ender
	got := tr.Push([]byte(long))
	if got == "" {
		t.Fatalf("expected force flush past the buffer limit")
	}
	if strings.TrimSpace(got) == "" {
		t.Fatalf("force flush emitted only whitespace")
	}
}

func TestFlushSuppressesWhitespaceOnly(t *testing.T) {
	tr := NewTransform(nil, 0)
	tr.Push([]byte("   \n\t  "))
	if got := tr.Flush(); got != "" {
		t.Fatalf("whitespace-only flush should be suppressed, got %q", got)
	}
}

func TestPushCarriesSplitUTF8Rune(t *testing.T) {
	tr := NewTransform(nil, 0)

	// "héllo." with the é (0xC3 0xA9) torn across frames.
	frame1 := []byte{'h', 0xC3}
	frame2 := []byte{0xA9, 'l', 'l', 'o', '.', ' '}

	if got := tr.Push(frame1); got != "" {
		t.Fatalf("torn rune must not emit, got %q", got)
	}
	got := tr.Push(frame2)
	if strings.TrimSpace(got) != "héllo." {
		t.Fatalf("emission = %q, want %q", got, "héllo.")
	}
}

func TestFlushDecodesTrailingTornRune(t *testing.T) {
	tr := NewTransform(nil, 0)
	tr.Push([]byte("ok"))
	tr.Push([]byte{0xC3})

	got := tr.Flush()
	if !strings.HasPrefix(got, "ok") {
		t.Fatalf("flush lost buffered text: %q", got)
	}
}

func TestQuestionAndExclamationBoundaries(t *testing.T) {
	tr := NewTransform(nil, 0)

	got := tr.Push([]byte("Really?! Yes. more"))
	if strings.TrimSpace(got) != "Really?! Yes." {
		t.Fatalf("emission = %q, want %q", got, "Really?! Yes.")
	}
	if rest := tr.Flush(); rest != "more" {
		t.Fatalf("remainder = %q, want %q", rest, "more")
	}
}

func TestPolicyAppliedPerSegment(t *testing.T) {
	upper := PolicyFunc(strings.ToUpper)
	tr := NewTransform(upper, 0)

	got := tr.Push([]byte("hello there. and"))
	if strings.TrimSpace(got) != "HELLO THERE." {
		t.Fatalf("policy not applied: %q", got)
	}
	if rest := tr.Flush(); rest != "AND" {
		t.Fatalf("policy not applied on flush: %q", rest)
	}
}

func TestPolicyCanSuppressSegment(t *testing.T) {
	drop := PolicyFunc(func(string) string { return "" })
	tr := NewTransform(drop, 0)

	if got := tr.Push([]byte("something. more")); got != "" {
		t.Fatalf("suppressed segment leaked: %q", got)
	}
}
