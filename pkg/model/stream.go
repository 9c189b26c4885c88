// Package model talks to OpenAI-compatible chat-completions endpoints and
// exposes responses as incremental token streams.
package model

import (
	"io"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
)

// TokenStream yields response text incrementally. Recv returns io.EOF on
// normal completion; any other error means the stream terminated abnormally
// and already-buffered text must not be treated as a finished response.
type TokenStream interface {
	// Recv blocks until the next frame is available. Frames are raw byte
	// chunks from the wire and may split multi-byte characters.
	Recv() ([]byte, error)

	// Usage returns token accounting once the stream has ended, if the
	// provider reported it. Nil before EOF or when unavailable.
	Usage() *chat.TokenUsage

	// Close releases the underlying connection. Safe to call more than once.
	Close() error
}

// SliceStream replays fixed frames, for tests and offline runs.
type SliceStream struct {
	frames [][]byte
	pos    int
	err    error
	usage  *chat.TokenUsage
}

// NewSliceStream returns a stream yielding the given frames then io.EOF.
func NewSliceStream(frames ...[]byte) *SliceStream {
	return &SliceStream{frames: frames}
}

// NewFailingStream yields frames then terminates with err instead of EOF.
func NewFailingStream(err error, frames ...[]byte) *SliceStream {
	return &SliceStream{frames: frames, err: err}
}

func (s *SliceStream) Recv() ([]byte, error) {
	if s.pos >= len(s.frames) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	frame := s.frames[s.pos]
	s.pos++
	return frame, nil
}

func (s *SliceStream) Usage() *chat.TokenUsage { return s.usage }

func (s *SliceStream) SetUsage(u *chat.TokenUsage) { s.usage = u }

func (s *SliceStream) Close() error { return nil }
