// Package jsonl reads and writes lane events as newline-delimited JSON, one
// core.Event per line. It is the trace format used to record and replay
// multi-agent sessions.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hupe1980/chatstream/core"
)

const maxLineSize = 4 << 20

// Decoder reads events from a JSONL stream.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: sc}
}

// Decode returns the next event. Blank lines are skipped. It returns io.EOF
// once the input is exhausted.
func (d *Decoder) Decode() (core.Event, error) {
	for d.scanner.Scan() {
		d.line++
		text := strings.TrimSpace(d.scanner.Text())
		if text == "" {
			continue
		}
		var ev core.Event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return core.Event{}, fmt.Errorf("line %d: %w: %v", d.line, core.ErrMalformedEvent, err)
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return core.Event{}, fmt.Errorf("line %d: %w", d.line+1, err)
	}
	return core.Event{}, io.EOF
}

// Line returns the number of the last line read.
func (d *Decoder) Line() int { return d.line }

// Encoder writes events as JSONL.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes ev followed by a newline.
func (e *Encoder) Encode(ev core.Event) error {
	return e.enc.Encode(ev)
}

// Options configures a Source.
type Options struct {
	// Pace delays each event by the given duration to approximate live
	// streaming. Zero replays as fast as possible.
	Pace time.Duration

	// SkipMalformed drops undecodable lines instead of failing the replay.
	SkipMalformed bool
}

// Source replays events from a JSONL reader.
type Source struct {
	open func() (io.ReadCloser, error)
	opts Options
}

// NewSource replays events read from r.
func NewSource(r io.Reader, optFns ...func(o *Options)) *Source {
	return newSource(func() (io.ReadCloser, error) { return io.NopCloser(r), nil }, optFns)
}

// NewFileSource replays events from the file at path.
func NewFileSource(path string, optFns ...func(o *Options)) *Source {
	return newSource(func() (io.ReadCloser, error) { return os.Open(path) }, optFns)
}

func newSource(open func() (io.ReadCloser, error), optFns []func(o *Options)) *Source {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Source{open: open, opts: opts}
}

// Stream emits every event of the trace in file order.
func (s *Source) Stream(ctx context.Context, emit func(ev core.Event)) error {
	rc, err := s.open()
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer rc.Close()

	var tick <-chan time.Time
	if s.opts.Pace > 0 {
		ticker := time.NewTicker(s.opts.Pace)
		defer ticker.Stop()
		tick = ticker.C
	}

	dec := NewDecoder(rc)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if s.opts.SkipMalformed && errors.Is(err, core.ErrMalformedEvent) {
				continue
			}
			return err
		}

		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		emit(ev)
	}
}

// WriteAll encodes events to w.
func WriteAll(w io.Writer, events []core.Event) error {
	enc := NewEncoder(w)
	for i, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}
