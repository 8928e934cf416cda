package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/applyflow/page"
)

// Envelope types written by the JSONL sink.
const (
	TypeError      = "error"
	TypeNavigation = "navigation"
	TypeFill       = "fill"
)

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// JSONL writes one JSON envelope per line.
type JSONL struct {
	mu     sync.Mutex
	w      io.Writer
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONL creates a JSONL sink writing to w. If w is nil, writes to stdout.
func NewJSONL(w io.Writer) *JSONL {
	if w == nil {
		w = os.Stdout
	}
	return &JSONL{w: w, enc: json.NewEncoder(w)}
}

// OpenJSONL appends to the file at path, creating it if needed.
func OpenJSONL(path string) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open jsonl: %w", err)
	}
	s := NewJSONL(f)
	s.closer = f
	return s, nil
}

func (s *JSONL) write(typ string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(envelope{Type: typ, Data: data}); err != nil {
		return fmt.Errorf("journal: jsonl %s: %w", typ, err)
	}
	return nil
}

func (s *JSONL) WriteError(_ context.Context, rec ErrorRecord) error {
	return s.write(TypeError, rec)
}

func (s *JSONL) WriteNavigation(_ context.Context, ev page.NavigationEvent) error {
	return s.write(TypeNavigation, ev)
}

func (s *JSONL) WriteFill(_ context.Context, rec FillRecord) error {
	return s.write(TypeFill, rec)
}

func (s *JSONL) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Entry is one decoded JSONL line. Exactly one of the pointers is set.
type Entry struct {
	Type       string
	Error      *ErrorRecord
	Navigation *page.NavigationEvent
	Fill       *FillRecord
}

// Decode reads JSONL envelopes from r and calls fn for each. Unknown types
// are skipped.
func Decode(r io.Reader, fn func(Entry) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var raw struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(sc.Bytes(), &raw); err != nil {
			return fmt.Errorf("journal: decode line %d: %w", line, err)
		}
		e := Entry{Type: raw.Type}
		var target any
		switch raw.Type {
		case TypeError:
			e.Error = &ErrorRecord{}
			target = e.Error
		case TypeNavigation:
			e.Navigation = &page.NavigationEvent{}
			target = e.Navigation
		case TypeFill:
			e.Fill = &FillRecord{}
			target = e.Fill
		default:
			continue
		}
		if err := json.Unmarshal(raw.Data, target); err != nil {
			return fmt.Errorf("journal: decode line %d: %w", line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}
