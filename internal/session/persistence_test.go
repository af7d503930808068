package session

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir)
}

func TestPersistWritesReportAndIndexRow(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	tph := 42.5
	res := Result{
		Start:           start,
		Stop:            start.Add(30 * time.Minute),
		Duration:        30 * time.Minute,
		MaterialsTons:   map[string]int{"Platinum": 12, "Painite": 4},
		TotalTons:       16,
		ProspectorsUsed: 8,
		HitRate:         0.75,
		AverageQuality:  61.2,
		BestMaterial:    "Platinum",
		TonsPerHour:     &tph,
	}

	reportPath, err := store.Persist(res, "Paesia", "Paesia 2 A Ring")
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if _, err := os.Stat(reportPath); err != nil {
		t.Fatalf("report file missing: %v", err)
	}

	text, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report failed: %v", err)
	}
	if !strings.Contains(string(text), "Total tons: 16") {
		t.Errorf("report missing total tons line, got:\n%s", text)
	}
	if !strings.Contains(string(text), reportRefinedSectionHeader) {
		t.Errorf("report missing refined-cargo section header")
	}

	indexText, err := os.ReadFile(filepath.Join(store.dir, "session_index.csv"))
	if err != nil {
		t.Fatalf("read index failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(indexText)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d index lines, want 2 (header + 1 row)", len(lines))
	}
	if !strings.Contains(lines[1], "Paesia") || !strings.Contains(lines[1], "16") {
		t.Errorf("index row missing expected fields, got: %s", lines[1])
	}
}

func TestReportFilenameSanitizesUnsafeCharacters(t *testing.T) {
	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	name := ReportFilename(start, "Col 359 Sector WY-Q b5-0", "Col 359 Sector WY-Q b5-0 1 A Ring")
	if strings.ContainsAny(name, " /\\") {
		t.Errorf("filename contains unsafe characters: %q", name)
	}
	if !strings.HasPrefix(name, "Session_20260731-120000_") {
		t.Errorf("filename = %q, want Session_20260731-120000_ prefix", name)
	}
}

// TestAmendRefineryMergesAndRecomputesTotal reproduces §8 scenario 6: a
// session ends with Platinum:12 tracked, then a manual refinery amendment
// reports 4 more tons of Platinum still in the refinery at stop time. The
// report's total and the matching index row must both land on 16.
func TestAmendRefineryMergesAndRecomputesTotal(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	res := Result{
		Start:         start,
		Stop:          start.Add(20 * time.Minute),
		Duration:      20 * time.Minute,
		MaterialsTons: map[string]int{"Platinum": 12},
		TotalTons:     12,
		BestMaterial:  "Platinum",
	}
	reportPath, err := store.Persist(res, "Hyades Sector DL-X", "Hyades Sector DL-X 1 A Ring")
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	if err := store.AmendRefinery(reportPath, map[string]int{"Platinum": 4}); err != nil {
		t.Fatalf("AmendRefinery failed: %v", err)
	}

	text, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read amended report failed: %v", err)
	}
	if !strings.Contains(string(text), "Total tons: 16") {
		t.Errorf("amended report missing recomputed total, got:\n%s", text)
	}
	if !strings.Contains(string(text), "Platinum: 16") {
		t.Errorf("amended report missing merged refinery line, got:\n%s", text)
	}

	indexText, err := os.ReadFile(filepath.Join(store.dir, "session_index.csv"))
	if err != nil {
		t.Fatalf("read index failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(indexText)), "\n")
	fields := strings.Split(lines[1], ",")
	got, err := strconv.Atoi(fields[4])
	if err != nil {
		t.Fatalf("index total_tons not numeric: %v", err)
	}
	if got != 16 {
		t.Errorf("index total_tons = %d, want 16", got)
	}
	if fields[7] != "1" {
		t.Errorf("index materials_tracked = %q, want 1", fields[7])
	}
	if fields[8] != "Platinum: 16" {
		t.Errorf("index materials_breakdown = %q, want %q", fields[8], "Platinum: 16")
	}
}

func TestAmendRefineryAccumulatesAcrossRepeatedAmendments(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	res := Result{Start: start, Stop: start.Add(time.Minute), Duration: time.Minute, MaterialsTons: map[string]int{}, TotalTons: 0}
	reportPath, err := store.Persist(res, "Deciat", "Deciat 3 A Ring")
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	if err := store.AmendRefinery(reportPath, map[string]int{"Osmium": 3}); err != nil {
		t.Fatalf("first AmendRefinery failed: %v", err)
	}
	if err := store.AmendRefinery(reportPath, map[string]int{"Osmium": 2, "Painite": 1}); err != nil {
		t.Fatalf("second AmendRefinery failed: %v", err)
	}

	text, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report failed: %v", err)
	}
	if !strings.Contains(string(text), "Osmium: 5") {
		t.Errorf("expected accumulated Osmium: 5, got:\n%s", text)
	}
	if !strings.Contains(string(text), "Painite: 1") {
		t.Errorf("expected Painite: 1, got:\n%s", text)
	}
	if !strings.Contains(string(text), "Total tons: 6") {
		t.Errorf("expected recomputed Total tons: 6, got:\n%s", text)
	}

	indexText, err := os.ReadFile(filepath.Join(store.dir, "session_index.csv"))
	if err != nil {
		t.Fatalf("read index failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(indexText)), "\n")
	fields := strings.Split(lines[1], ",")
	if fields[7] != "2" {
		t.Errorf("index materials_tracked = %q, want 2 (Osmium, Painite)", fields[7])
	}
	if fields[8] != "Osmium: 5; Painite: 1" {
		t.Errorf("index materials_breakdown = %q, want %q", fields[8], "Osmium: 5; Painite: 1")
	}
}
