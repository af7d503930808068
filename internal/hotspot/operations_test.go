package hotspot

import (
	"fmt"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertHotspotInsertsNewRow(t *testing.T) {
	db := newTestDB(t)
	h := Hotspot{
		System: "Wolf 359", Body: "Wolf 359 6 A Ring", Material: "Painite",
		Count: 3, ScanDate: "2026-01-01T00:00:00Z",
		Coords: Coords{X: 1, Y: 2, Z: 3, Valid: true}, CoordSource: CoordJournal,
		DataSource: "journal",
	}
	if err := db.UpsertHotspot(h); err != nil {
		t.Fatalf("UpsertHotspot failed: %v", err)
	}
	got, err := db.GetBodyHotspots(h.System, h.Body)
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d hotspots, want 1", len(got))
	}
	if got[0].Count != 3 {
		t.Errorf("Count = %d, want 3", got[0].Count)
	}
}

func TestUpsertHotspotCountNeverDecreases(t *testing.T) {
	db := newTestDB(t)
	base := Hotspot{System: "Col 359 Sector", Body: "Col 359 Sector A 1 Ring", Material: "Alexandrite", Count: 5, ScanDate: "2026-01-01T00:00:00Z"}
	if err := db.UpsertHotspot(base); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	lower := base
	lower.Count = 2
	lower.ScanDate = "2026-01-02T00:00:00Z"
	if err := db.UpsertHotspot(lower); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	got, err := db.GetBodyHotspots(base.System, base.Body)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got[0].Count != 5 {
		t.Errorf("Count regressed to %d, want 5 preserved", got[0].Count)
	}
	if got[0].ScanDate != "2026-01-02T00:00:00Z" {
		t.Errorf("ScanDate = %q, want the later date to have advanced", got[0].ScanDate)
	}
}

func TestUpsertHotspotCoordSourcePrecedence(t *testing.T) {
	db := newTestDB(t)
	base := Hotspot{
		System: "HIP 12345", Body: "HIP 12345 1 A Ring", Material: "Platinum",
		Count: 1, Coords: Coords{X: 10, Y: 10, Z: 10, Valid: true}, CoordSource: CoordJournal,
	}
	if err := db.UpsertHotspot(base); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	weaker := base
	weaker.Coords = Coords{X: 99, Y: 99, Z: 99, Valid: true}
	weaker.CoordSource = CoordSpansh
	if err := db.UpsertHotspot(weaker); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	got, err := db.GetBodyHotspots(base.System, base.Body)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got[0].Coords.X != 10 {
		t.Errorf("coords were overwritten by a lower-precedence source: X = %v, want 10", got[0].Coords.X)
	}
}

func TestDensityOverrideRules(t *testing.T) {
	numeric := NumericDensity(1.5)
	reserve := ReserveDensity(ReserveMajor)

	if got := numeric.OverrideWith(reserve); !got.IsReserve() {
		t.Errorf("numeric should be overridden by reserve text, got %v", got)
	}
	if got := reserve.OverrideWith(numeric); !got.IsReserve() {
		t.Errorf("reserve text must never be overwritten by a number, got %v", got)
	}
	other := ReserveDensity(ReserveLow)
	got := reserve.OverrideWith(other)
	if r, _ := got.Reserve(); r != ReserveLow {
		t.Errorf("a different reserve tag should win, got %v", r)
	}
}

func TestUpdateRingMetadataBackfillsAcrossMaterials(t *testing.T) {
	db := newTestDB(t)
	system, body := "Wolf 359", "Wolf 359 6 A Ring"
	if err := db.UpsertHotspot(Hotspot{System: system, Body: body, Material: "Painite", Count: 2}); err != nil {
		t.Fatalf("upsert 1 failed: %v", err)
	}
	if err := db.UpsertHotspot(Hotspot{System: system, Body: body, Material: "Osmium", Count: 1}); err != nil {
		t.Fatalf("upsert 2 failed: %v", err)
	}
	ls := 500.0
	if err := db.UpdateRingMetadata(system, body, RingMetadata{RingType: RingRocky, LSDistance: &ls}); err != nil {
		t.Fatalf("UpdateRingMetadata failed: %v", err)
	}
	hotspots, err := db.GetBodyHotspots(system, body)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	for _, h := range hotspots {
		if h.Ring.RingType != RingRocky {
			t.Errorf("material %s: RingType = %q, want Rocky", h.Material, h.Ring.RingType)
		}
		if h.Ring.LSDistance == nil || *h.Ring.LSDistance != 500.0 {
			t.Errorf("material %s: LSDistance not backfilled", h.Material)
		}
	}
}

func TestAddVisitedSystemVisitCountIgnoresReplayedTimestamp(t *testing.T) {
	db := newTestDB(t)
	v := VisitedSystem{System: "Paesia", Coords: Coords{X: 1, Y: 2, Z: 3, Valid: true},
		FirstVisit: "2026-01-01T00:00:00.000Z", LastVisit: "2026-01-01T00:00:00.000Z"}
	if err := db.AddVisitedSystem(v); err != nil {
		t.Fatalf("first AddVisitedSystem failed: %v", err)
	}
	// Same journal line replayed: timestamp is not strictly greater.
	if err := db.AddVisitedSystem(v); err != nil {
		t.Fatalf("replayed AddVisitedSystem failed: %v", err)
	}
	got, found, err := db.GetVisitedSystem("Paesia")
	if err != nil || !found {
		t.Fatalf("GetVisitedSystem failed: err=%v found=%v", err, found)
	}
	if got.VisitCount != 1 {
		t.Errorf("VisitCount = %d, want 1 after replaying the same timestamp", got.VisitCount)
	}

	later := v
	later.LastVisit = "2026-01-02T00:00:00.000Z"
	if err := db.AddVisitedSystem(later); err != nil {
		t.Fatalf("later AddVisitedSystem failed: %v", err)
	}
	got, _, err = db.GetVisitedSystem("Paesia")
	if err != nil {
		t.Fatalf("GetVisitedSystem failed: %v", err)
	}
	if got.VisitCount != 2 {
		t.Errorf("VisitCount = %d, want 2 after a strictly later visit", got.VisitCount)
	}
}

func TestHotspotsInSystemsChunksLargeInputs(t *testing.T) {
	db := newTestDB(t)
	names := make([]string, 0, 1200)
	for i := 0; i < 1200; i++ {
		system := fmt.Sprintf("System %d", i)
		names = append(names, system)
		if i%400 == 0 {
			if err := db.UpsertHotspot(Hotspot{System: system, Body: "1 A Ring", Material: "Painite", Count: 1}); err != nil {
				t.Fatalf("seed upsert %d failed: %v", i, err)
			}
		}
	}
	got, err := db.HotspotsInSystems(names)
	if err != nil {
		t.Fatalf("HotspotsInSystems failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d hotspots, want 3 (one per seeded system, across chunk boundaries)", len(got))
	}
}

func TestSetOverlapTagInsertsPlaceholderRowWhenRingUnknown(t *testing.T) {
	db := newTestDB(t)
	tag := Overlap2x
	if err := db.SetOverlapTag("Paesia", "2 A Ring", "Platinum", &tag); err != nil {
		t.Fatalf("SetOverlapTag failed: %v", err)
	}
	got, err := db.GetBodyHotspots("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1 placeholder row", len(got))
	}
	if got[0].Count != 0 {
		t.Errorf("Count = %d, want 0 for a placeholder row", got[0].Count)
	}
	if got[0].Ring.Overlap == nil || *got[0].Ring.Overlap != Overlap2x {
		t.Errorf("Overlap = %v, want 2x", got[0].Ring.Overlap)
	}
}

func TestSetOverlapTagUpdatesExistingRowWithoutTouchingCount(t *testing.T) {
	db := newTestDB(t)
	if err := db.UpsertHotspot(Hotspot{System: "Paesia", Body: "2 A Ring", Material: "Platinum", Count: 3}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}
	tag := Overlap3x
	if err := db.SetOverlapTag("Paesia", "2 A Ring", "Platinum", &tag); err != nil {
		t.Fatalf("SetOverlapTag failed: %v", err)
	}
	got, err := db.GetBodyHotspots("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if got[0].Count != 3 {
		t.Errorf("Count = %d, want 3 preserved by a tag-only update", got[0].Count)
	}
	if got[0].Ring.Overlap == nil || *got[0].Ring.Overlap != Overlap3x {
		t.Errorf("Overlap = %v, want 3x", got[0].Ring.Overlap)
	}
}

func TestSetOverlapTagNilClearsTag(t *testing.T) {
	db := newTestDB(t)
	tag := Overlap2x
	if err := db.SetOverlapTag("Paesia", "2 A Ring", "Platinum", &tag); err != nil {
		t.Fatalf("SetOverlapTag(set) failed: %v", err)
	}
	if err := db.SetOverlapTag("Paesia", "2 A Ring", "Platinum", nil); err != nil {
		t.Fatalf("SetOverlapTag(clear) failed: %v", err)
	}
	got, err := db.GetBodyHotspots("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if got[0].Ring.Overlap != nil {
		t.Errorf("Overlap = %v, want nil after clearing", got[0].Ring.Overlap)
	}
}

func TestSetResTagInsertsPlaceholderRowWhenRingUnknown(t *testing.T) {
	db := newTestDB(t)
	tag := ResHigh
	if err := db.SetResTag("Paesia", "2 A Ring", "Platinum", &tag); err != nil {
		t.Fatalf("SetResTag failed: %v", err)
	}
	got, err := db.GetBodyHotspots("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if len(got) != 1 || got[0].Count != 0 {
		t.Fatalf("got %+v, want one hotspot_count=0 placeholder row", got)
	}
	if got[0].Ring.Res == nil || *got[0].Ring.Res != ResHigh {
		t.Errorf("Res = %v, want High", got[0].Ring.Res)
	}
}

func TestDataMigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.UpsertHotspot(Hotspot{System: "Wolf 359", Body: "Wolf 359 6 A Ring", Material: "Painite", Count: 1}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := db.RunDataMigrations(); err != nil {
		t.Fatalf("first RunDataMigrations failed: %v", err)
	}
	if err := db.RunDataMigrations(); err != nil {
		t.Fatalf("second RunDataMigrations (no-op) failed: %v", err)
	}
}
