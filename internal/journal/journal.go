// Package journal tails the game's rotating journal log directory and
// emits typed events for the dispatcher (component C4).
//
// The directory holds a sequence of append-only `Journal.<datetime>.log`
// files (UTF-8 JSON-lines) plus two atomically-rewritten snapshot files,
// Status.json and Cargo.json. The reader never writes into this directory.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Event is one parsed record: either a line from the live journal file, or
// a synthetic snapshot event produced when Status.json or Cargo.json
// changes on disk. Raw carries the full decoded line so the dispatcher
// (C5) can unmarshal whatever event-specific fields it needs without this
// package knowing the full event schema.
type Event struct {
	// Timestamp is the journal line's own "timestamp" field, parsed as
	// RFC3339. It is the zero time for synthetic snapshot events or lines
	// whose timestamp failed to parse.
	Timestamp time.Time

	// Kind is the journal "event" field for a journal line, or one of the
	// synthetic kinds below for a snapshot.
	Kind string

	// Raw is the full decoded JSON object for this record.
	Raw json.RawMessage
}

// Synthetic event kinds forwarded for the two snapshot files. These never
// appear in the journal log itself.
const (
	KindStatusSnapshot = "Status"
	KindCargoSnapshot  = "Cargo"
)

// envelope captures only the two fields every real journal line carries;
// everything else stays in the raw message for the dispatcher to decode.
type envelope struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
}

// parseLine decodes one journal line. A line that is not JSON or lacks an
// event field is rejected as malformed; a missing or unparseable timestamp
// only leaves Timestamp zero. One bad line never kills the file (§7), so
// callers accumulate these as non-fatal per-line errors.
func parseLine(line []byte) (Event, error) {
	line = trimTrailingNewline(line)
	if len(line) == 0 {
		return Event{}, fmt.Errorf("empty line")
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Event{}, fmt.Errorf("malformed journal line: %w", err)
	}
	if env.Event == "" {
		return Event{}, fmt.Errorf("journal line missing event field")
	}

	ts, err := time.Parse(time.RFC3339, env.Timestamp)
	if err != nil {
		ts = time.Time{}
	}

	return Event{
		Timestamp: ts,
		Kind:      env.Event,
		Raw:       json.RawMessage(line),
	}, nil
}

func trimTrailingNewline(line []byte) []byte {
	return bytes.TrimRight(line, "\r\n")
}

func snapshotEvent(kind string, at time.Time, data []byte) Event {
	return Event{Timestamp: at, Kind: kind, Raw: json.RawMessage(data)}
}
