package pathconfig

import (
	"os"
	"path/filepath"
)

// devMarker is a file present only in a development checkout (at the
// module root of the repository), used to distinguish a packaged install
// from a repo checkout when no explicit override is given.
const devMarker = "go.mod"

// ResolveDataRoot decides where eliteminer's mutable state (hotspot store,
// config file, session reports) lives. override, if non-empty, always wins.
// Otherwise: a packaged install keeps its data root beside the running
// executable; a development checkout (detected by the presence of a go.mod
// walking up from the executable's directory) keeps it under ./data at the
// repository root instead, so repeated `go run` invocations during
// development don't scatter state next to a temp build output.
func ResolveDataRoot(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", err
	}
	exeDir := filepath.Dir(exe)

	if root, ok := findRepoRoot(exeDir); ok {
		return filepath.Join(root, "data"), nil
	}
	return filepath.Join(exeDir, "data"), nil
}

// findRepoRoot walks upward from dir looking for devMarker, identifying a
// development checkout rather than an installed binary's directory.
func findRepoRoot(dir string) (string, bool) {
	for {
		if _, err := os.Stat(filepath.Join(dir, devMarker)); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
