package ingest

import (
	"context"
	"testing"

	"github.com/eliteminer/core/internal/dispatch"
	"github.com/eliteminer/core/internal/hotspot"
)

func newTestDB(t *testing.T) *hotspot.DB {
	t.Helper()
	db, err := hotspot.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeEnricher struct {
	coords hotspot.Coords
	source hotspot.CoordSource
	ok     bool
	err    error
	calls  int
}

func (f *fakeEnricher) Lookup(ctx context.Context, system string) (hotspot.Coords, hotspot.CoordSource, bool, error) {
	f.calls++
	return f.coords, f.source, f.ok, f.err
}

func TestHandleSignalsFoundUpsertsEachSignal(t *testing.T) {
	db := newTestDB(t)
	ing := New(db, nil)

	ev := dispatch.SAASignalsFoundEvent{
		BodyName: "Paesia 2 A Ring",
		Signals: []dispatch.SAASignal{
			{Type: "Platinum", Count: 3},
			{Type: "Painite", Count: 1},
		},
	}
	if err := ing.HandleSignalsFound("Paesia", hotspot.Coords{X: 1, Y: 2, Z: 3, Valid: true}, ev); err != nil {
		t.Fatalf("HandleSignalsFound failed: %v", err)
	}

	got, err := db.GetBodyHotspots("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d hotspots, want 2", len(got))
	}
}

func TestHandleSignalsFoundSkipsZeroCountSignals(t *testing.T) {
	db := newTestDB(t)
	ing := New(db, nil)

	ev := dispatch.SAASignalsFoundEvent{
		BodyName: "Paesia 2 A Ring",
		Signals:  []dispatch.SAASignal{{Type: "Rock", Count: 0}},
	}
	if err := ing.HandleSignalsFound("Paesia", hotspot.Coords{}, ev); err != nil {
		t.Fatalf("HandleSignalsFound failed: %v", err)
	}
	got, err := db.GetBodyHotspots("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d hotspots, want 0 for a zero-count signal", len(got))
	}
}

func TestHandleSignalsFoundMergesDuplicateMaterialEntries(t *testing.T) {
	db := newTestDB(t)
	ing := New(db, nil)

	ev := dispatch.SAASignalsFoundEvent{
		BodyName: "Paesia 2 A Ring",
		Signals: []dispatch.SAASignal{
			{Type: "Platinum", Count: 2},
			{Type: "Platinum", Count: 1},
		},
	}
	if err := ing.HandleSignalsFound("Paesia", hotspot.Coords{}, ev); err != nil {
		t.Fatalf("HandleSignalsFound failed: %v", err)
	}

	got, err := db.GetBodyHotspots("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d hotspots, want 1 merged row for a duplicate material", len(got))
	}
	if got[0].Count != 3 {
		t.Errorf("Count = %d, want 3 (2 + 1 merged)", got[0].Count)
	}
}

func TestHandleSignalsFoundUsesEnricherWhenCoordsMissing(t *testing.T) {
	db := newTestDB(t)
	enricher := &fakeEnricher{coords: hotspot.Coords{X: 5, Y: 6, Z: 7, Valid: true}, source: hotspot.CoordSpansh, ok: true}
	ing := New(db, enricher)

	ev := dispatch.SAASignalsFoundEvent{BodyName: "Paesia 2 A Ring", Signals: []dispatch.SAASignal{{Type: "Platinum", Count: 1}}}
	if err := ing.HandleSignalsFound("Paesia", hotspot.Coords{}, ev); err != nil {
		t.Fatalf("HandleSignalsFound failed: %v", err)
	}
	if enricher.calls != 1 {
		t.Fatalf("enricher.calls = %d, want 1", enricher.calls)
	}
	got, err := db.GetBodyHotspots("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if len(got) != 1 || got[0].Coords.X != 5 {
		t.Errorf("expected the enriched coordinates to be stored, got %+v", got)
	}
}

func TestHandleSignalsFoundSkipsEnricherWhenCoordsAlreadyKnown(t *testing.T) {
	db := newTestDB(t)
	enricher := &fakeEnricher{ok: true}
	ing := New(db, enricher)

	ev := dispatch.SAASignalsFoundEvent{BodyName: "Paesia 2 A Ring", Signals: []dispatch.SAASignal{{Type: "Platinum", Count: 1}}}
	if err := ing.HandleSignalsFound("Paesia", hotspot.Coords{X: 1, Y: 1, Z: 1, Valid: true}, ev); err != nil {
		t.Fatalf("HandleSignalsFound failed: %v", err)
	}
	if enricher.calls != 0 {
		t.Errorf("enricher.calls = %d, want 0 when the journal already supplied coords", enricher.calls)
	}
}

func TestHandleScanWritesRingMetadata(t *testing.T) {
	db := newTestDB(t)
	ing := New(db, nil)

	if err := db.UpsertHotspot(hotspot.Hotspot{System: "Paesia", Body: "2 A Ring", Material: "Platinum", Count: 1}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	ev := dispatch.ScanEvent{
		BodyName: "Paesia 2",
		Rings: []dispatch.ScanRing{
			{Name: "Paesia 2 A Ring", RingClass: "eRingClass_Metalic", MassMT: 5965100000, InnerRad: 64972000, OuterRad: 66417000},
		},
	}
	if err := ing.HandleScan("Paesia", hotspot.Coords{}, ev); err != nil {
		t.Fatalf("HandleScan failed: %v", err)
	}

	meta, err := db.GetRingMetadata("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetRingMetadata failed: %v", err)
	}
	if meta.RingType != hotspot.RingMetallic {
		t.Errorf("RingType = %v, want Metallic", meta.RingType)
	}
	density, ok := meta.Density.Numeric()
	if !ok {
		t.Fatalf("expected numeric density, got %+v", meta.Density)
	}
	if diff := density - 10.000944; diff < -0.00001 || diff > 0.00001 {
		t.Errorf("density = %v, want ~10.000944", density)
	}
}
