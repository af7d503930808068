// Package pathconfig resolves the application's data root (install-vs-dev
// layout) and owns the typed key-value configuration store that every
// other component reads its tunables from (component C1).
package pathconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the recognized configuration surface. Every field has a typed
// default from Defaults() that Load decodes the file over, so a config file
// that omits a key never leaves the program with a zero value it didn't ask
// for.
type Config struct {
	JournalDir string `json:"journal_dir"`

	ScreenshotsFolder string `json:"screenshots_folder"`

	TTSVoice  string  `json:"tts_voice"`
	TTSVolume float64 `json:"tts_volume"`

	TextOverlayEnabled  bool   `json:"text_overlay_enabled"`
	TextOverlayPosition string `json:"text_overlay_position"`
	TextOverlayOpacity  float64 `json:"text_overlay_opacity"`

	CargoEnabled      bool   `json:"cargo_enabled"`
	CargoMaxCapacity  int    `json:"cargo_max_capacity"`
	CargoPosition     string `json:"cargo_position"`

	StayOnTop       bool `json:"stay_on_top"`
	TooltipsEnabled bool `json:"tooltips_enabled"`

	MainAnnouncementEnabled bool `json:"main_announcement_enabled"`
	AnnouncementsEnabled    bool `json:"announcements_enabled"`

	AutoScanJournals      bool `json:"auto_scan_journals"`
	AutoStartSession      bool `json:"auto_start_session"`
	PromptOnCargoFull     bool `json:"prompt_on_cargo_full"`
	AskImportOnPathChange bool `json:"ask_import_on_path_change"`

	EDSMAPIKey string `json:"edsm_api_key"`
}

// Defaults returns the compiled-in default configuration. Load decodes a
// file's contents over a copy of this value, so any key the file omits
// keeps its typed default rather than a zero value, while a key the file
// sets keeps the file's value even when that value is false or 0.
func Defaults() Config {
	return Config{
		TTSVolume:              1.0,
		TextOverlayOpacity:     0.85,
		CargoEnabled:           true,
		CargoMaxCapacity:       0,
		StayOnTop:              true,
		TooltipsEnabled:        true,
		MainAnnouncementEnabled: true,
		AnnouncementsEnabled:   true,
		AutoScanJournals:       true,
		AutoStartSession:       true,
		PromptOnCargoFull:      true,
		AskImportOnPathChange: true,
	}
}

// Store owns the on-disk config file, which is always <dataRoot>/config.json.
// It does no path validation of its own.
type Store struct {
	path     string
	dataRoot string
}

// Open returns a Store bound to <dataRoot>/config.json. The directory is
// created if missing.
func Open(dataRoot string) (*Store, error) {
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data root %s: %w", dataRoot, err)
	}
	return &Store{
		path:     filepath.Join(dataRoot, "config.json"),
		dataRoot: dataRoot,
	}, nil
}

// Load reads the config file and decodes it over Defaults(). A missing file
// is not an error: it is treated as an empty override, returning the
// compiled-in defaults unchanged.
func (s *Store) Load() (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save atomically persists cfg: it writes to a temp file in the same
// directory as the config file and renames it into place, so a reader never
// observes a partially written file and a crash mid-write leaves the
// previous config intact.
func (s *Store) Save(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temp config file into place: %w", err)
	}
	return nil
}

// SetValue loads the current config, applies a single named override
// through set, and saves the result -- the load/mutate/save sequence every
// `save(key, value)` call in the design follows.
func (s *Store) SetValue(set func(*Config)) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	set(&cfg)
	return s.Save(cfg)
}
