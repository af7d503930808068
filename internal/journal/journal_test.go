package journal

import "testing"

func TestParseLineExtractsTimestampAndEvent(t *testing.T) {
	ev, err := parseLine([]byte(`{"timestamp":"2026-07-31T12:00:00Z","event":"LoadGame","Ship":"sidewinder"}`))
	if err != nil {
		t.Fatalf("parseLine failed: %v", err)
	}
	if ev.Kind != "LoadGame" {
		t.Errorf("Kind = %q, want LoadGame", ev.Kind)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected parsed timestamp, got zero time")
	}
}

func TestParseLineRejectsMissingEventField(t *testing.T) {
	_, err := parseLine([]byte(`{"timestamp":"2026-07-31T12:00:00Z"}`))
	if err == nil {
		t.Error("expected an error for a line with no event field")
	}
}

func TestParseLineRejectsMalformedJSON(t *testing.T) {
	_, err := parseLine([]byte(`not json`))
	if err == nil {
		t.Error("expected an error for non-JSON input")
	}
}

func TestParseLineToleratesUnparseableTimestamp(t *testing.T) {
	ev, err := parseLine([]byte(`{"timestamp":"not-a-time","event":"Location"}`))
	if err != nil {
		t.Fatalf("parseLine failed: %v", err)
	}
	if ev.Kind != "Location" {
		t.Errorf("Kind = %q, want Location", ev.Kind)
	}
	if !ev.Timestamp.IsZero() {
		t.Error("expected zero time for unparseable timestamp, got non-zero")
	}
}

func TestParseLineRejectsEmptyLine(t *testing.T) {
	_, err := parseLine([]byte("   \r\n"))
	if err == nil {
		t.Error("expected an error for a blank line")
	}
}
