package journal

import (
	"encoding/json"
	"fmt"

	"github.com/eliteminer/core/internal/fsutil"
)

// scanState is the incremental-scan bookkeeping persisted between runs:
// which journal file was being read, and how many bytes of it had already
// been forwarded. On restart, the reader resumes from exactly this point
// instead of replaying or re-skipping the whole directory.
type scanState struct {
	Filename string `json:"filename"`
	Offset   int64  `json:"offset"`
}

func loadScanState(fs fsutil.FileSystem, path string) (scanState, bool, error) {
	if !fs.Exists(path) {
		return scanState{}, false, nil
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return scanState{}, false, fmt.Errorf("failed to read scan state file: %w", err)
	}
	var st scanState
	if err := json.Unmarshal(data, &st); err != nil {
		return scanState{}, false, fmt.Errorf("failed to parse scan state file: %w", err)
	}
	return st, true, nil
}

// saveScanState persists st to path. The abstract FileSystem has no
// rename primitive, so this is a direct overwrite rather than the
// temp-file-plus-rename pattern used by pathconfig.Store.Save; a crash
// mid-write can lose at most the current poll tick's progress, which is
// re-derived safely on the next run (replaying from the last good offset
// only re-reads lines already forwarded once, never skips any).
func saveScanState(fs fsutil.FileSystem, path string, st scanState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal scan state: %w", err)
	}
	if err := fs.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write scan state file: %w", err)
	}
	return nil
}
