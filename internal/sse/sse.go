// Package sse decodes newline-delimited server-sent event records.
//
// The Decoder is fed raw bytes and pulled for records, so it does not depend
// on how the bytes arrive.
package sse

import (
	"bytes"
	"strings"
)

// State is the outcome of one Next call.
type State int

const (
	// NeedMore means no complete record is buffered; Feed more bytes.
	NeedMore State = iota
	// Ready means Next returned a data payload.
	Ready
	// Done means the stream ended, either by the [DONE] sentinel or by Close.
	Done
)

func (s State) String() string {
	switch s {
	case NeedMore:
		return "need_more"
	case Ready:
		return "ready"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// Decoder buffers partial lines between Feed calls.
type Decoder struct {
	buf    []byte
	closed bool
	done   bool
}

// Feed appends bytes read from the stream.
func (d *Decoder) Feed(p []byte) {
	if d.done {
		return
	}
	d.buf = append(d.buf, p...)
}

// Close marks end of input; a trailing line without newline is still decoded.
func (d *Decoder) Close() {
	d.closed = true
}

// Next returns the next data payload. Lines without a data: prefix
// (comments, event names, keepalives) are skipped.
func (d *Decoder) Next() (string, State) {
	for {
		if d.done {
			return "", Done
		}
		idx := bytes.IndexByte(d.buf, '\n')
		var line string
		switch {
		case idx >= 0:
			line = string(d.buf[:idx])
			d.buf = d.buf[idx+1:]
		case d.closed && len(d.buf) > 0:
			line = string(d.buf)
			d.buf = nil
		case d.closed:
			d.done = true
			return "", Done
		default:
			return "", NeedMore
		}
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == "" {
			continue
		}
		if payload == doneSentinel {
			d.done = true
			d.buf = nil
			return "", Done
		}
		return payload, Ready
	}
}
