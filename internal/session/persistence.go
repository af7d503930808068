package session

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eliteminer/core/internal/security"
)

// Store writes session artifacts to disk: a per-session text report and a
// CSV index, and supports the manual refinery-amendment path (§4.9). The
// text report and a rewritten index go through the same
// create-temp-file/Sync/Rename idiom as C1's pathconfig.Store.Save, so a
// reader never observes a half-written report; a new index row is appended
// to the CSV in place.
type Store struct {
	dir        string
	indexPath  string
}

// NewStore builds a Store rooted at dir, where dir is expected to already
// exist (created by the application's startup path-setup step, not here).
func NewStore(dir string) *Store {
	return &Store{dir: dir, indexPath: filepath.Join(dir, "session_index.csv")}
}

var filenameUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ReportFilename builds the Session_<timestamp>_<system>_<body>.txt name
// §4.9 specifies, sanitizing system/body for filesystem safety.
func ReportFilename(start time.Time, system, body string) string {
	ts := start.UTC().Format("20060102-150405")
	return fmt.Sprintf("Session_%s_%s_%s.txt", ts, sanitizeForFilename(system), sanitizeForFilename(body))
}

func sanitizeForFilename(s string) string {
	return filenameUnsafe.ReplaceAllString(strings.TrimSpace(s), "_")
}

var indexCSVHeader = []string{
	"timestamp_local", "system", "body", "duration", "total_tons", "tph",
	"prospectors", "materials_tracked", "materials_breakdown",
}

// csvRow is one row of the session index (§6's output-artifact fields).
type csvRow struct {
	TimestampLocal string
	System         string
	Body           string
	Duration       string
	TotalTons      int
	TPH            string
	Prospectors    int
	MaterialsTracked int
	MaterialsBreakdown string
}

// Persist writes the per-session text report and appends its row to the
// session index CSV. Returns the report's path, for the caller to display
// or for a later amendment to look up.
func (s *Store) Persist(res Result, system, body string) (string, error) {
	reportPath := filepath.Join(s.dir, ReportFilename(res.Start, system, body))
	if err := security.ValidatePathWithinDirectory(reportPath, s.dir); err != nil {
		return "", fmt.Errorf("session: refusing unsafe report path: %w", err)
	}

	text := renderReport(res, system, body)
	if err := atomicWriteFile(reportPath, []byte(text)); err != nil {
		return "", fmt.Errorf("session: write report: %w", err)
	}

	row := csvRow{
		TimestampLocal:      res.Start.UTC().Format(time.RFC3339),
		System:              system,
		Body:                body,
		Duration:            formatDuration(res.Duration),
		TotalTons:           res.TotalTons,
		TPH:                 formatTPH(res.TonsPerHour),
		Prospectors:         res.ProspectorsUsed,
		MaterialsTracked:    len(res.MaterialsTons),
		MaterialsBreakdown:  formatBreakdown(res.MaterialsTons),
	}
	if err := s.appendIndexRow(row); err != nil {
		return "", fmt.Errorf("session: append index row: %w", err)
	}
	return reportPath, nil
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

func formatTPH(tph *float64) string {
	if tph == nil {
		return ""
	}
	return strconv.FormatFloat(*tph, 'f', 2, 64)
}

func formatBreakdown(materials map[string]int) string {
	names := make([]string, 0, len(materials))
	for m := range materials {
		names = append(names, m)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, m := range names {
		parts = append(parts, fmt.Sprintf("%s: %d", m, materials[m]))
	}
	return strings.Join(parts, "; ")
}

const reportRefinedSectionHeader = "=== REFINED CARGO TRACKING ==="
const reportMinedSectionHeader = "=== MATERIALS MINED ==="

func renderReport(res Result, system, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s / %s\n", system, body)
	fmt.Fprintf(&b, "Start: %s\n", res.Start.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Stop: %s\n", res.Stop.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n", formatDuration(res.Duration))
	fmt.Fprintf(&b, "Total tons: %d\n", res.TotalTons)
	if res.TonsPerHour != nil {
		fmt.Fprintf(&b, "Tons per hour: %.2f\n", *res.TonsPerHour)
	} else {
		fmt.Fprintf(&b, "Tons per hour: n/a (session under 1 second)\n")
	}
	fmt.Fprintf(&b, "Prospectors used: %d\n", res.ProspectorsUsed)
	fmt.Fprintf(&b, "Hit rate: %.1f%%\n", res.HitRate*100)
	fmt.Fprintf(&b, "Average quality: %.1f%%\n", res.AverageQuality)
	if res.BestMaterial != "" {
		fmt.Fprintf(&b, "Best material: %s\n", res.BestMaterial)
	}
	b.WriteString("\n=== MATERIALS MINED ===\n")
	for _, m := range sortedKeys(res.MaterialsTons) {
		fmt.Fprintf(&b, "%s: %d\n", m, res.MaterialsTons[m])
	}
	if len(res.EngineeringMaterials) > 0 {
		b.WriteString("\n=== ENGINEERING MATERIALS COLLECTED ===\n")
		for _, m := range sortedKeys(res.EngineeringMaterials) {
			fmt.Fprintf(&b, "%s: %d\n", m, res.EngineeringMaterials[m])
		}
	}
	b.WriteString("\n" + reportRefinedSectionHeader + "\n")
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) appendIndexRow(row csvRow) error {
	exists := true
	if _, err := os.Stat(s.indexPath); os.IsNotExist(err) {
		exists = false
	}

	f, err := os.OpenFile(s.indexPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open session index: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if !exists {
		if err := w.Write(indexCSVHeader); err != nil {
			return fmt.Errorf("failed to write session index header: %w", err)
		}
	}
	if err := w.Write(rowToRecord(row)); err != nil {
		return fmt.Errorf("failed to write session index row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func rowToRecord(row csvRow) []string {
	return []string{
		row.TimestampLocal, row.System, row.Body, row.Duration,
		strconv.Itoa(row.TotalTons), row.TPH, strconv.Itoa(row.Prospectors),
		strconv.Itoa(row.MaterialsTracked), row.MaterialsBreakdown,
	}
}

// AmendRefinery implements §4.9's manual refinery-amendment path: a later
// report that materials were still in the ship's refinery at stop time.
// It merges the amended quantities into the report's
// "=== REFINED CARGO TRACKING ===" section, recomputes the header's total,
// and updates the matching CSV row (looked up by the timestamp embedded in
// reportPath's filename) with the new total, material count, and breakdown
// string. Each file is replaced atomically on its own (temp file, then
// rename), but the two replacements are not one transaction: the report is
// written first, so if the CSV update then fails (for example because no
// row matches), the report keeps the amendment and the CSV row its old
// values.
func (s *Store) AmendRefinery(reportPath string, amendment map[string]int) error {
	if err := security.ValidatePathWithinDirectory(reportPath, s.dir); err != nil {
		return fmt.Errorf("session: refusing unsafe report path: %w", err)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("session: read report: %w", err)
	}

	merged, newTotal, combined, err := mergeRefinedSection(string(data), amendment)
	if err != nil {
		return fmt.Errorf("session: merge refinery section: %w", err)
	}

	ts, err := parseReportFilenameTimestamp(filepath.Base(reportPath))
	if err != nil {
		return fmt.Errorf("session: parse report filename: %w", err)
	}

	if err := atomicWriteFile(reportPath, []byte(merged)); err != nil {
		return fmt.Errorf("session: write amended report: %w", err)
	}
	if err := s.updateIndexRow(ts, newTotal, len(combined), formatBreakdown(combined)); err != nil {
		return fmt.Errorf("session: update index row: %w", err)
	}
	return nil
}

// mergeRefinedSection parses the existing report's refined-cargo section,
// merges in amendment's quantities, recomputes "Total tons" in place, and
// returns the rewritten report text, the new total, and the refined
// section's own post-merge material:count map. The first amendment against
// a session seeds the refined section from the original MATERIALS MINED
// tally, so from that point on the refined section (and the index CSV
// fields derived from it) always carries the session's full combined
// breakdown rather than just a running total of refinery-only deltas; a
// later amendment finds that seeded total already in place and only adds
// to it.
func mergeRefinedSection(report string, amendment map[string]int) (string, int, map[string]int, error) {
	lines := strings.Split(report, "\n")
	sectionIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == reportRefinedSectionHeader {
			sectionIdx = i
			break
		}
	}
	if sectionIdx == -1 {
		lines = append(lines, reportRefinedSectionHeader)
		sectionIdx = len(lines) - 1
	}

	existing := map[string]int{}
	end := len(lines)
	for i := sectionIdx + 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "===") {
			end = i
			break
		}
		name, count, ok := parseMaterialLine(line)
		if !ok {
			end = i
			break
		}
		existing[name] = count
	}
	if len(existing) == 0 {
		for name, count := range parseMaterialSection(report, reportMinedSectionHeader) {
			existing[name] = count
		}
	}
	for name, count := range amendment {
		existing[name] += count
	}

	var section []string
	for _, name := range sortedKeys(existing) {
		section = append(section, fmt.Sprintf("%s: %d", name, existing[name]))
	}
	rebuilt := append([]string{}, lines[:sectionIdx+1]...)
	rebuilt = append(rebuilt, section...)
	rebuilt = append(rebuilt, lines[end:]...)

	totalAdded := 0
	for _, c := range amendment {
		totalAdded += c
	}

	newTotal := 0
	out := make([]string, 0, len(rebuilt))
	for _, line := range rebuilt {
		if strings.HasPrefix(line, "Total tons: ") {
			current, _ := strconv.Atoi(strings.TrimPrefix(line, "Total tons: "))
			newTotal = current + totalAdded
			line = fmt.Sprintf("Total tons: %d", newTotal)
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), newTotal, existing, nil
}

// parseMaterialSection returns the material:count pairs listed under the
// given "=== ... ===" section header, stopping at the next blank-then-other
// section or the first line that doesn't parse as "Name: Count". Used to
// recover the report's original MATERIALS MINED tally so an amendment can
// fold its refined-section total into the session's overall breakdown.
func parseMaterialSection(report, header string) map[string]int {
	out := map[string]int{}
	lines := strings.Split(report, "\n")
	sectionIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			sectionIdx = i
			break
		}
	}
	if sectionIdx == -1 {
		return out
	}
	for i := sectionIdx + 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "===") {
			break
		}
		name, count, ok := parseMaterialLine(line)
		if !ok {
			break
		}
		out[name] = count
	}
	return out
}

var materialLinePattern = regexp.MustCompile(`^(.+): (-?\d+)$`)

func parseMaterialLine(line string) (string, int, bool) {
	m := materialLinePattern.FindStringSubmatch(line)
	if m == nil {
		return "", 0, false
	}
	count, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], count, true
}

var reportFilenamePattern = regexp.MustCompile(`^Session_(\d{8}-\d{6})_.+\.txt$`)

// parseReportFilenameTimestamp extracts the embedded timestamp from a report
// filename. System and body are not recovered from the filename: both are
// underscore-sanitized on the way in, so a sanitized "Col_359_Sector" system
// and a sanitized "1_A_Ring" body can no longer be told apart by splitting
// on underscores. The timestamp alone is the reliable join key back to the
// index CSV.
func parseReportFilenameTimestamp(name string) (string, error) {
	m := reportFilenamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", fmt.Errorf("unrecognized report filename: %s", name)
	}
	return m[1], nil
}

// updateIndexRow rewrites the session index CSV, replacing the row whose
// timestamp matches ts with the amendment's updated total_tons,
// materials_tracked, and materials_breakdown values. The whole file is
// read, rewritten to a temp file, and renamed into place atomically,
// exactly as the text-report write does; it is a separate commit from that
// write, not part of it.
func (s *Store) updateIndexRow(ts string, newTotal, materialsTracked int, materialsBreakdown string) error {
	f, err := os.Open(s.indexPath)
	if err != nil {
		return fmt.Errorf("failed to open session index: %w", err)
	}
	r := csv.NewReader(bufio.NewReader(f))
	records, err := r.ReadAll()
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read session index: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("session index is empty")
	}

	target := csvTimestampFromFilenameTimestamp(ts)
	found := false
	for i := 1; i < len(records); i++ {
		row := records[i]
		if len(row) < 9 {
			continue
		}
		if row[0] == target {
			row[4] = strconv.Itoa(newTotal)
			row[7] = strconv.Itoa(materialsTracked)
			row[8] = materialsBreakdown
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no matching session index row at %s", target)
	}

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("failed to rewrite session index: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return atomicWriteFile(s.indexPath, []byte(buf.String()))
}

// csvTimestampFromFilenameTimestamp converts the report filename's
// "20060102-150405" timestamp to the RFC3339 form the index CSV stores it
// in.
func csvTimestampFromFilenameTimestamp(ts string) string {
	t, err := time.Parse("20060102-150405", ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format(time.RFC3339)
}

// atomicWriteFile writes data to path via a temp file in the same
// directory, Sync, then Rename, following the same idiom as
// pathconfig.Store.Save.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}
