package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/eliteminer/core/internal/hotspot"
	"github.com/eliteminer/core/internal/journal"
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

func rawEvent(kind string, payload interface{}) journal.Event {
	data, _ := json.Marshal(payload)
	return journal.Event{Kind: kind, Timestamp: time.Now(), Raw: data}
}

type fakeIngestor struct {
	signalsSystem string
	signalsCoords hotspot.Coords
	signalsEvent  SAASignalsFoundEvent
	scanEvent     ScanEvent
}

func (f *fakeIngestor) HandleSignalsFound(system string, coords hotspot.Coords, ev SAASignalsFoundEvent) error {
	f.signalsSystem, f.signalsCoords, f.signalsEvent = system, coords, ev
	return nil
}

func (f *fakeIngestor) HandleScan(system string, coords hotspot.Coords, ev ScanEvent) error {
	f.scanEvent = ev
	return nil
}

type fakeSession struct {
	cargoEvents     []CargoEvent
	cargoDeltas     []int
	materials       []MaterialCollectedEvent
	prospectorCalls int
	capacityCalls   int
}

func (f *fakeSession) HandleCargo(ev CargoEvent, fullInventory bool) {
	f.cargoEvents = append(f.cargoEvents, ev)
}
func (f *fakeSession) HandleCargoDelta(delta int)                        { f.cargoDeltas = append(f.cargoDeltas, delta) }
func (f *fakeSession) HandleMaterialCollected(ev MaterialCollectedEvent) { f.materials = append(f.materials, ev) }
func (f *fakeSession) HandleProspector(ev ProspectorEvent)               { f.prospectorCalls++ }
func (f *fakeSession) HandleCapacityRefresh()                            { f.capacityCalls++ }

func TestDispatchLocationRecordsVisitedSystem(t *testing.T) {
	db := newTestHotspotDB(t)
	d := New(db, nil, nil, nil)

	ev := rawEvent("FSDJump", LocationEvent{StarSystem: "Paesia", StarPos: [3]float64{10, 20, 30}})
	if err := d.Dispatch(ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	system, coords := d.CurrentSystem()
	if system != "Paesia" || !coords.Valid || coords.X != 10 {
		t.Errorf("CurrentSystem = %q %+v, want Paesia with coords", system, coords)
	}
}

func TestDispatchSignalsFoundUsesCurrentSystem(t *testing.T) {
	db := newTestHotspotDB(t)
	ing := &fakeIngestor{}
	d := New(db, ing, nil, nil)

	if err := d.Dispatch(rawEvent("FSDJump", LocationEvent{StarSystem: "Paesia", StarPos: [3]float64{1, 2, 3}})); err != nil {
		t.Fatalf("Dispatch(FSDJump) failed: %v", err)
	}
	sig := SAASignalsFoundEvent{BodyName: "Paesia 2 A Ring", Signals: []SAASignal{{Type: "Platinum", Count: 3}}}
	if err := d.Dispatch(rawEvent("SAASignalsFound", sig)); err != nil {
		t.Fatalf("Dispatch(SAASignalsFound) failed: %v", err)
	}
	if ing.signalsSystem != "Paesia" {
		t.Errorf("signalsSystem = %q, want Paesia", ing.signalsSystem)
	}
	if ing.signalsEvent.BodyName != "Paesia 2 A Ring" {
		t.Errorf("signalsEvent.BodyName = %q, want unchanged raw body name", ing.signalsEvent.BodyName)
	}
}

func TestDispatchScanForwardsOnlyWhenRingsPresent(t *testing.T) {
	ing := &fakeIngestor{}
	d := New(nil, ing, nil, nil)

	if err := d.Dispatch(rawEvent("Scan", ScanEvent{BodyName: "Paesia 2"})); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if ing.scanEvent.BodyName != "" {
		t.Errorf("expected no forward for a scan with no rings, got %+v", ing.scanEvent)
	}

	scan := ScanEvent{BodyName: "Paesia 2", Rings: []ScanRing{{Name: "Paesia 2 A Ring", RingClass: "eRingClass_Metalic"}}}
	if err := d.Dispatch(rawEvent("Scan", scan)); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if ing.scanEvent.BodyName != "Paesia 2" {
		t.Errorf("expected scan with rings to forward, got %+v", ing.scanEvent)
	}
}

func TestDispatchMaterialCollectedFiltersNonRawCategory(t *testing.T) {
	sess := &fakeSession{}
	d := New(nil, nil, sess, nil)

	if err := d.Dispatch(rawEvent("MaterialCollected", MaterialCollectedEvent{Category: "Encoded", Name: "shieldpatternanalysis", Count: 1})); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(sess.materials) != 0 {
		t.Errorf("expected Encoded category to be filtered out, got %+v", sess.materials)
	}

	if err := d.Dispatch(rawEvent("MaterialCollected", MaterialCollectedEvent{Category: "Raw", Name: "iron", Count: 3})); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(sess.materials) != 1 || sess.materials[0].Name != "iron" {
		t.Errorf("expected the Raw category event to reach the session, got %+v", sess.materials)
	}
}

func TestDispatchCargoDecrementEventsNegateCount(t *testing.T) {
	sess := &fakeSession{}
	d := New(nil, nil, sess, nil)

	if err := d.Dispatch(rawEvent("MarketSell", CargoDecrementEvent{Type: "platinum", Count: 5})); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(sess.cargoDeltas) != 1 || sess.cargoDeltas[0] != -5 {
		t.Errorf("cargoDeltas = %v, want [-5]", sess.cargoDeltas)
	}
}

func TestDispatchCapacityRefreshTriggers(t *testing.T) {
	sess := &fakeSession{}
	d := New(nil, nil, sess, nil)

	for _, kind := range []string{"ShipyardSwap", "ModuleBuy"} {
		if err := d.Dispatch(rawEvent(kind, struct{}{})); err != nil {
			t.Fatalf("Dispatch(%s) failed: %v", kind, err)
		}
	}
	if sess.capacityCalls != 2 {
		t.Errorf("capacityCalls = %d, want 2", sess.capacityCalls)
	}
}

func TestDispatchUnrecognizedEventIsIgnored(t *testing.T) {
	d := New(nil, nil, nil, nil)
	if err := d.Dispatch(rawEvent("Fileheader", struct{}{})); err != nil {
		t.Errorf("expected unrecognized events to be ignored, got %v", err)
	}
}
