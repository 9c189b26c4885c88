// Package stream reshapes a token stream into sentence-sized emissions and
// applies rewrite policies to each complete segment before it reaches the
// user.
package stream

import (
	"strings"
	"unicode/utf8"
)

// DefaultFlushLimit caps how much text can buffer while waiting for a
// sentence boundary. Past the cap the buffer is flushed as-is so long
// unpunctuated output still streams.
const DefaultFlushLimit = 500

var sentenceEnders = [...]byte{'.', '!', '?'}

// Transform accumulates incoming frames and releases text one complete
// sentence group at a time. Frames may split multi-byte UTF-8 sequences; the
// incomplete tail is carried into the next frame so decoding never tears a
// rune. Not safe for concurrent use; each response gets its own Transform.
type Transform struct {
	policy     Policy
	flushLimit int

	buf  strings.Builder
	tail []byte
}

func NewTransform(policy Policy, flushLimit int) *Transform {
	if flushLimit <= 0 {
		flushLimit = DefaultFlushLimit
	}
	return &Transform{policy: policy, flushLimit: flushLimit}
}

// Push ingests one frame and returns any text ready to emit. The returned
// string is empty when no complete sentence has accumulated yet.
func (t *Transform) Push(frame []byte) string {
	if len(t.tail) > 0 {
		frame = append(t.tail, frame...)
		t.tail = nil
	}
	complete := frame
	if n := incompleteTailLen(frame); n > 0 {
		complete = frame[:len(frame)-n]
		t.tail = append([]byte{}, frame[len(frame)-n:]...)
	}
	if len(complete) > 0 {
		t.buf.Write(complete)
	}

	buffered := t.buf.String()
	cut := lastSentenceBoundary(buffered)
	if cut < 0 && t.buf.Len() <= t.flushLimit {
		return ""
	}
	if cut < 0 {
		// No boundary but over the cap: release everything buffered.
		cut = len(buffered)
	}

	segment := buffered[:cut]
	rest := buffered[cut:]
	t.buf.Reset()
	t.buf.WriteString(rest)
	return t.emit(segment)
}

// Flush releases whatever remains buffered. Call exactly once after the
// source stream ends normally; on abnormal termination skip it so partial
// output is not emitted.
func (t *Transform) Flush() string {
	segment := t.buf.String()
	if len(t.tail) > 0 {
		// A torn rune at end of stream is decoded permissively.
		segment += string(t.tail)
		t.tail = nil
	}
	t.buf.Reset()
	return t.emit(segment)
}

// Pending reports whether undelivered text is buffered.
func (t *Transform) Pending() bool {
	return t.buf.Len() > 0 || len(t.tail) > 0
}

func (t *Transform) emit(segment string) string {
	if strings.TrimSpace(segment) == "" {
		return ""
	}
	if t.policy != nil {
		segment = t.policy.Rewrite(segment)
		if strings.TrimSpace(segment) == "" {
			return ""
		}
	}
	return segment
}

// lastSentenceBoundary finds the cut point after the last run of sentence
// punctuation that is followed by whitespace. Returns -1 when the text holds
// no complete sentence. The cut includes the trailing whitespace run so the
// remainder starts clean.
func lastSentenceBoundary(s string) int {
	for i := len(s) - 1; i > 0; i-- {
		if !isSpaceByte(s[i]) {
			continue
		}
		if !isSentenceEnder(s[i-1]) {
			continue
		}
		end := i
		for end < len(s) && isSpaceByte(s[end]) {
			end++
		}
		return end
	}
	return -1
}

func isSentenceEnder(b byte) bool {
	for _, e := range sentenceEnders {
		if b == e {
			return true
		}
	}
	return false
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// incompleteTailLen returns how many bytes at the end of p belong to an
// unfinished UTF-8 sequence.
func incompleteTailLen(p []byte) int {
	n := len(p)
	if n == 0 {
		return 0
	}
	// Scan back at most utf8.UTFMax bytes for a lead byte.
	start := n - utf8.UTFMax
	if start < 0 {
		start = 0
	}
	for i := n - 1; i >= start; i-- {
		b := p[i]
		if b < utf8.RuneSelf {
			return 0
		}
		if b&0xC0 == 0xC0 {
			// Lead byte at i; is the sequence complete?
			size := runeLen(b)
			if n-i < size {
				return n - i
			}
			return 0
		}
	}
	return 0
}

func runeLen(lead byte) int {
	switch {
	case lead&0xF8 == 0xF0:
		return 4
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xE0 == 0xC0:
		return 2
	default:
		return 1
	}
}
