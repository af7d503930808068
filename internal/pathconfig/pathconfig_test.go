package pathconfig

import (
	"path/filepath"
	"testing"
)

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	cfg, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Defaults()
	if cfg != want {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, want)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	cfg := Defaults()
	cfg.AutoStartSession = false
	cfg.CargoMaxCapacity = 256
	if err := store.Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.AutoStartSession != false || got.CargoMaxCapacity != 256 {
		t.Errorf("Load() = %+v, want overrides preserved", got)
	}
}

func TestSetValueMergesSingleKey(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.SetValue(func(c *Config) { c.EDSMAPIKey = "test-key" }); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.EDSMAPIKey != "test-key" {
		t.Errorf("EDSMAPIKey = %q, want test-key", got.EDSMAPIKey)
	}
	// Previously-set defaults must survive an unrelated SetValue call.
	if got.AutoScanJournals != true {
		t.Errorf("unrelated default AutoScanJournals was clobbered: %v", got.AutoScanJournals)
	}
}

func TestResolveDataRootHonorsOverride(t *testing.T) {
	got, err := ResolveDataRoot("/custom/data/root")
	if err != nil {
		t.Fatalf("ResolveDataRoot failed: %v", err)
	}
	if got != filepath.Clean("/custom/data/root") {
		t.Errorf("got %q, want /custom/data/root", got)
	}
}
