// Package dispatch routes parsed journal events (C4's output) to the
// domain handlers that care about them, per §4.5's event table. It is the
// single place that owns the "current system" and "current coords" state
// spec.md §9 calls out as global mutable state that must be made explicit
// and owned by exactly one component.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/eliteminer/core/internal/hotspot"
	"github.com/eliteminer/core/internal/journal"
	"github.com/eliteminer/core/internal/logging"
)

// Ingestor is C6's interface into the dispatcher: the ring/hotspot
// ingestor applies scan and signals-found events to the hotspot store.
type Ingestor interface {
	HandleSignalsFound(system string, coords hotspot.Coords, ev SAASignalsFoundEvent) error
	HandleScan(system string, coords hotspot.Coords, ev ScanEvent) error
}

// SessionSink is C8's interface into the dispatcher: the live session
// aggregator reacts to cargo, prospector, and material-collection events.
type SessionSink interface {
	HandleCargo(ev CargoEvent, fullInventory bool)
	HandleCargoDelta(delta int)
	HandleMaterialCollected(ev MaterialCollectedEvent)
	HandleProspector(ev ProspectorEvent)
	HandleCapacityRefresh()
}

// ShipInfoSink receives LoadGame/Loadout updates; C1/config or a UI
// collaborator implements this in the full application.
type ShipInfoSink interface {
	HandleShipInfo(ev ShipInfoEvent)
}

// Dispatcher owns current-system/current-coords state and fans events out
// to C6/C8/C1 per §4.5's table. Events with no listed effect are ignored.
type Dispatcher struct {
	hotspots *hotspot.DB
	ingest   Ingestor
	session  SessionSink
	ship     ShipInfoSink

	currentSystem string
	currentCoords hotspot.Coords
}

// New builds a Dispatcher. session and ship may be nil if the caller only
// cares about visited-systems/hotspot bookkeeping (e.g. a headless import).
func New(hotspots *hotspot.DB, ingest Ingestor, session SessionSink, ship ShipInfoSink) *Dispatcher {
	return &Dispatcher{hotspots: hotspots, ingest: ingest, session: session, ship: ship}
}

// Dispatch routes one parsed journal event. Unlisted events are ignored
// without error, per §4.5. A non-nil error means the event was recognized
// but its handler failed; the caller (normally the journal-poll loop) logs
// and continues rather than aborting the scan, per §7's "one bad line
// never kills a file."
func (d *Dispatcher) Dispatch(ev journal.Event) error {
	log := logging.WithComponent("dispatch")
	switch ev.Kind {
	case "LoadGame", "Loadout":
		return d.handleShipInfo(ev)
	case "Location", "FSDJump", "CarrierJump":
		return d.handleLocation(ev)
	case "Scan":
		return d.handleScan(ev)
	case "SAASignalsFound":
		return d.handleSignalsFound(ev)
	case "MaterialCollected":
		return d.handleMaterialCollected(ev)
	case "Cargo":
		return d.handleCargo(ev)
	case "MarketSell", "EjectCargo":
		return d.handleCargoDecrement(ev)
	case "ShipyardSwap", "ShipyardBuy", "ModuleBuy", "ModuleSell", "ModuleStore":
		return d.handleCapacityRefresh(ev)
	case "ProspectorLimpet":
		return d.handleProspector(ev)
	default:
		log.WithField("kind", ev.Kind).Debug("unrecognized event, ignored")
		return nil
	}
}

func (d *Dispatcher) handleShipInfo(ev journal.Event) error {
	if d.ship == nil {
		return nil
	}
	var info ShipInfoEvent
	if err := json.Unmarshal(ev.Raw, &info); err != nil {
		return fmt.Errorf("dispatch: decode %s: %w", ev.Kind, err)
	}
	d.ship.HandleShipInfo(info)
	return nil
}

func (d *Dispatcher) handleLocation(ev journal.Event) error {
	var loc LocationEvent
	if err := json.Unmarshal(ev.Raw, &loc); err != nil {
		return fmt.Errorf("dispatch: decode %s: %w", ev.Kind, err)
	}
	if loc.StarSystem == "" {
		return nil
	}
	d.currentSystem = loc.StarSystem
	coords := hotspot.Coords{}
	if len(loc.StarPos) == 3 {
		coords = hotspot.Coords{X: loc.StarPos[0], Y: loc.StarPos[1], Z: loc.StarPos[2], Valid: true}
	}
	d.currentCoords = coords

	if d.hotspots == nil {
		return nil
	}
	ts := ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	return d.hotspots.AddVisitedSystem(hotspot.VisitedSystem{
		System:     loc.StarSystem,
		Coords:     coords,
		FirstVisit: ts,
		LastVisit:  ts,
		VisitCount: 1,
	})
}

func (d *Dispatcher) handleScan(ev journal.Event) error {
	var scan ScanEvent
	if err := json.Unmarshal(ev.Raw, &scan); err != nil {
		return fmt.Errorf("dispatch: decode Scan: %w", err)
	}
	if len(scan.Rings) == 0 || d.ingest == nil {
		return nil
	}
	return d.ingest.HandleScan(d.currentSystem, d.currentCoords, scan)
}

func (d *Dispatcher) handleSignalsFound(ev journal.Event) error {
	if d.ingest == nil {
		return nil
	}
	var sig SAASignalsFoundEvent
	if err := json.Unmarshal(ev.Raw, &sig); err != nil {
		return fmt.Errorf("dispatch: decode SAASignalsFound: %w", err)
	}
	return d.ingest.HandleSignalsFound(d.currentSystem, d.currentCoords, sig)
}

func (d *Dispatcher) handleMaterialCollected(ev journal.Event) error {
	if d.session == nil {
		return nil
	}
	var mc MaterialCollectedEvent
	if err := json.Unmarshal(ev.Raw, &mc); err != nil {
		return fmt.Errorf("dispatch: decode MaterialCollected: %w", err)
	}
	if mc.Category != "Raw" {
		return nil
	}
	d.session.HandleMaterialCollected(mc)
	return nil
}

func (d *Dispatcher) handleCargo(ev journal.Event) error {
	if d.session == nil {
		return nil
	}
	var cargo CargoEvent
	if err := json.Unmarshal(ev.Raw, &cargo); err != nil {
		return fmt.Errorf("dispatch: decode Cargo: %w", err)
	}
	d.session.HandleCargo(cargo, len(cargo.Inventory) > 0)
	return nil
}

func (d *Dispatcher) handleCargoDecrement(ev journal.Event) error {
	if d.session == nil {
		return nil
	}
	var dec CargoDecrementEvent
	if err := json.Unmarshal(ev.Raw, &dec); err != nil {
		return fmt.Errorf("dispatch: decode %s: %w", ev.Kind, err)
	}
	d.session.HandleCargoDelta(-dec.Count)
	return nil
}

func (d *Dispatcher) handleCapacityRefresh(ev journal.Event) error {
	if d.session == nil {
		return nil
	}
	d.session.HandleCapacityRefresh()
	return nil
}

func (d *Dispatcher) handleProspector(ev journal.Event) error {
	if d.session == nil {
		return nil
	}
	var p ProspectorEvent
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		return fmt.Errorf("dispatch: decode ProspectorLimpet: %w", err)
	}
	d.session.HandleProspector(p)
	return nil
}

// CurrentSystem returns the most recently recorded location, the "current
// system" state §9 requires be owned by exactly one component.
func (d *Dispatcher) CurrentSystem() (string, hotspot.Coords) {
	return d.currentSystem, d.currentCoords
}
