package query

import (
	"testing"

	"github.com/eliteminer/core/internal/hotspot"
)

func newTestHotspotDB(t *testing.T) *hotspot.DB {
	t.Helper()
	db, err := hotspot.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedVisited(t *testing.T, db *hotspot.DB, name string, x, y, z float64) {
	t.Helper()
	if err := db.AddVisitedSystem(hotspot.VisitedSystem{
		System: name, Coords: hotspot.Coords{X: x, Y: y, Z: z, Valid: true},
		FirstVisit: "2026-01-01T00:00:00.000Z", LastVisit: "2026-01-01T00:00:00.000Z",
	}); err != nil {
		t.Fatalf("seed visited system %s failed: %v", name, err)
	}
}

func TestFindReturnsOnlyResultsWithinDistance(t *testing.T) {
	db := newTestHotspotDB(t)
	seedVisited(t, db, "Origin", 0, 0, 0)
	seedVisited(t, db, "Near", 3, 0, 0)
	seedVisited(t, db, "Far", 50, 0, 0)

	if err := db.UpsertHotspot(hotspot.Hotspot{System: "Near", Body: "1 A Ring", Material: "Platinum", Count: 3,
		Ring: hotspot.RingMetadata{RingType: hotspot.RingRocky}}); err != nil {
		t.Fatalf("seed hotspot failed: %v", err)
	}
	if err := db.UpsertHotspot(hotspot.Hotspot{System: "Far", Body: "2 A Ring", Material: "Platinum", Count: 5,
		Ring: hotspot.RingMetadata{RingType: hotspot.RingRocky}}); err != nil {
		t.Fatalf("seed hotspot failed: %v", err)
	}

	eng := New(db, nil, nil)
	results, err := eng.Find(Filter{ReferenceSystem: "Origin", MaxDistanceLY: 10})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (Far is outside the 10ly cap)", len(results))
	}
	if results[0].System != "Near" {
		t.Errorf("System = %q, want Near", results[0].System)
	}
}

func TestFindFiltersByRingType(t *testing.T) {
	db := newTestHotspotDB(t)
	seedVisited(t, db, "Origin", 0, 0, 0)
	seedVisited(t, db, "A", 1, 0, 0)
	seedVisited(t, db, "B", 2, 0, 0)
	if err := db.UpsertHotspot(hotspot.Hotspot{System: "A", Body: "1 A Ring", Material: "Platinum", Count: 1,
		Ring: hotspot.RingMetadata{RingType: hotspot.RingRocky}}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := db.UpsertHotspot(hotspot.Hotspot{System: "B", Body: "1 A Ring", Material: "Platinum", Count: 1,
		Ring: hotspot.RingMetadata{RingType: hotspot.RingIcy}}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	eng := New(db, nil, nil)
	results, err := eng.Find(Filter{ReferenceSystem: "Origin", MaxDistanceLY: 10, RingType: hotspot.RingIcy})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(results) != 1 || results[0].System != "B" {
		t.Fatalf("expected only the Icy ring at B, got %+v", results)
	}
}

func TestFindMaterialFilterAutoEnablesConfirmedOnly(t *testing.T) {
	db := newTestHotspotDB(t)
	seedVisited(t, db, "Origin", 0, 0, 0)
	seedVisited(t, db, "A", 1, 0, 0)
	// Count 0: an unconfirmed row, should be excluded once material is set.
	if err := db.UpsertHotspot(hotspot.Hotspot{System: "A", Body: "1 A Ring", Material: "Platinum", Count: 0}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	eng := New(db, nil, nil)
	results, err := eng.Find(Filter{ReferenceSystem: "Origin", MaxDistanceLY: 10, Material: "Platinum"})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected the unconfirmed row to be filtered out, got %+v", results)
	}
}

func TestFindMaterialAliasMatches(t *testing.T) {
	db := newTestHotspotDB(t)
	seedVisited(t, db, "Origin", 0, 0, 0)
	seedVisited(t, db, "A", 1, 0, 0)
	if err := db.UpsertHotspot(hotspot.Hotspot{System: "A", Body: "1 A Ring", Material: hotspot.NormalizeMaterialName("LTD"), Count: 2}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	eng := New(db, nil, nil)
	results, err := eng.Find(Filter{ReferenceSystem: "Origin", MaxDistanceLY: 10, Material: "Low Temp Diamonds"})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the alias to resolve to the same canonical material, got %+v", results)
	}
}

func TestFindReferenceNotFound(t *testing.T) {
	db := newTestHotspotDB(t)
	eng := New(db, nil, nil)
	_, err := eng.Find(Filter{ReferenceSystem: "Nowhere"})
	if err == nil {
		t.Fatal("expected an error for an unresolvable reference system")
	}
	if _, ok := err.(*ErrReferenceNotFound); !ok {
		t.Errorf("expected *ErrReferenceNotFound, got %T: %v", err, err)
	}
}

func TestFindMaxResultsTruncates(t *testing.T) {
	db := newTestHotspotDB(t)
	seedVisited(t, db, "Origin", 0, 0, 0)
	seedVisited(t, db, "A", 1, 0, 0)
	seedVisited(t, db, "B", 2, 0, 0)
	if err := db.UpsertHotspot(hotspot.Hotspot{System: "A", Body: "1 A Ring", Material: "Platinum", Count: 1}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := db.UpsertHotspot(hotspot.Hotspot{System: "B", Body: "1 A Ring", Material: "Platinum", Count: 1}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	eng := New(db, nil, nil)
	results, err := eng.Find(Filter{ReferenceSystem: "Origin", MaxDistanceLY: 10, MaxResults: 1})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 after truncation", len(results))
	}
}
