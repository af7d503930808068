package session

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/eliteminer/core/internal/dispatch"
	"github.com/eliteminer/core/internal/hotspot"
	"github.com/eliteminer/core/internal/logging"
	"github.com/eliteminer/core/internal/timeutil"
)

// skipNamePattern matches cargo item names that are never mining yield:
// limpet drones, engineer/mission data, and salvage scrap.
var skipNamePattern = regexp.MustCompile(`(?i)limpet|drones|data|salvage|wreckagecomponents|scrapcomponents`)

// ErrNotActive is returned by an operation that requires an active session
// while the aggregator is Idle (§7's "precondition violation" error kind).
var ErrNotActive = fmt.Errorf("session: no active session")

// Aggregator is C8's live mining-session state machine. Its mutable state
// is touched only by whichever goroutine calls its methods -- normally the
// same one driving the dispatcher (§5's "aggregator state is only touched
// by the dispatcher thread").
type Aggregator struct {
	mu    sync.Mutex
	clock timeutil.Clock
	cfg   Config

	state State

	startTime     time.Time
	startCargo    map[string]int
	startCapacity int

	currentCargo         map[string]int
	currentCargoCapacity int

	engineeringMaterials map[string]int
	prospectorsUsed      int
	prospectorSamples    []ProspectorSample

	idleTimer      timeutil.Timer
	cargoFullFired bool
}

// New builds an Idle Aggregator. clock is normally timeutil.RealClock{};
// tests substitute a timeutil.MockClock.
func New(clock timeutil.Clock, cfg Config) *Aggregator {
	return &Aggregator{clock: clock, cfg: cfg, state: Idle, currentCargo: map[string]int{}}
}

var _ dispatch.SessionSink = (*Aggregator)(nil)

// State returns the aggregator's current state.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start transitions Idle -> Active, snapshotting cargo and capacity (§4.8
// "entry to Active"). Calling Start while already Active is a no-op so a
// duplicate manual start button-press never loses the original snapshot.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startSessionLocked()
}

func (a *Aggregator) startSessionLocked() {
	if a.state == Active {
		return
	}
	a.state = Active
	a.startTime = a.clock.Now()
	a.startCargo = cloneCounts(a.currentCargo)
	a.startCapacity = a.currentCargoCapacity
	a.engineeringMaterials = map[string]int{}
	a.prospectorsUsed = 0
	a.prospectorSamples = nil
	a.cargoFullFired = false
	a.stopIdleTimerLocked()
}

// Stop transitions Active -> Ending. Persist must be called afterward to
// compute and clear the session, or Cancel to discard it.
func (a *Aggregator) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Active {
		return ErrNotActive
	}
	a.state = Ending
	a.stopIdleTimerLocked()
	return nil
}

// Cancel discards whatever session is in progress (Active or Ending) and
// returns to Idle without persisting anything.
func (a *Aggregator) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = Idle
	a.stopIdleTimerLocked()
}

// Persist computes the SessionResult for a session in the Ending state and
// returns to Idle. TonsPerHour is only computed here, over the wall-clock
// duration between the Start and Persist snapshots, and is nil when that
// duration is under one second (§4.8).
func (a *Aggregator) Persist() (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Ending {
		return Result{}, ErrNotActive
	}
	stop := a.clock.Now()
	duration := stop.Sub(a.startTime)

	deltas := cargoDeltas(a.startCargo, a.currentCargo)
	total := 0
	for _, tons := range deltas {
		total += tons
	}

	var tph *float64
	if duration >= time.Second {
		hours := duration.Hours()
		v := float64(total) / hours
		tph = &v
	}

	res := Result{
		Start:                a.startTime,
		Stop:                 stop,
		Duration:             duration,
		MaterialsTons:        deltas,
		TotalTons:            total,
		ProspectorsUsed:      a.prospectorsUsed,
		EngineeringMaterials: cloneCounts(a.engineeringMaterials),
		HitRate:              hitRate(a.prospectorSamples),
		AverageQuality:       averageQuality(a.prospectorSamples),
		BestMaterial:         bestMaterial(deltas),
		TonsPerHour:          tph,
	}

	a.state = Idle
	return res, nil
}

// HandleCargo records a full-inventory Cargo event. fullInventory
// distinguishes a Cargo event carrying the whole inventory array from a
// bare count-only event, which this aggregator ignores (it cannot attribute
// a bare total to any one material).
func (a *Aggregator) HandleCargo(ev dispatch.CargoEvent, fullInventory bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !fullInventory {
		return
	}
	counts := map[string]int{}
	for _, item := range ev.Inventory {
		if item.Stolen > 0 || skipNamePattern.MatchString(item.Name) {
			continue
		}
		material := hotspot.NormalizeMaterialName(item.Name)
		counts[material] += item.Count
	}
	a.currentCargo = counts
	a.checkCargoFullLocked()
}

// HandleCargoDelta applies a negative adjustment to the tracked cargo total
// when only a single-item event (MarketSell, EjectCargo, ...) is available
// rather than a full inventory snapshot. A zero or positive delta, or any
// delta outside an Active session, is ignored. A decrement that would take
// a material below zero clamps at zero, since cargo can't hold less than
// nothing.
func (a *Aggregator) HandleCargoDelta(delta int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if delta >= 0 || a.state != Active {
		return
	}
	// Without knowing which material the decrement applies to, distribute
	// it against the material with the largest current amount -- the
	// common case for a mining run is selling or jettisoning whatever is
	// most abundant.
	material := bestMaterial(a.currentCargo)
	if material == "" {
		return
	}
	a.currentCargo[material] += delta
	if a.currentCargo[material] < 0 {
		a.currentCargo[material] = 0
	}
}

// HandleMaterialCollected tracks an engineering-material pickup. The
// dispatcher has already filtered this down to Category == "Raw" before it
// reaches here.
func (a *Aggregator) HandleMaterialCollected(ev dispatch.MaterialCollectedEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Active {
		return
	}
	if a.engineeringMaterials == nil {
		a.engineeringMaterials = map[string]int{}
	}
	a.engineeringMaterials[ev.Name] += ev.Count
}

// HandleProspector records one ProspectorLimpet firing: its yield sample,
// and (if the auto-start toggle is enabled) the Idle -> Active transition
// on the very first firing of a new session (§4.8's auto-trigger).
func (a *Aggregator) HandleProspector(ev dispatch.ProspectorEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Idle {
		if !a.cfg.AutoStartOnProspector {
			return
		}
		a.startSessionLocked()
	}
	if a.state != Active {
		return
	}

	a.prospectorsUsed++
	sample := ProspectorSample{HasMaterial: len(ev.Materials) > 0}
	for _, m := range ev.Materials {
		if m.Proportion*100 > sample.Quality {
			sample.Quality = m.Proportion * 100
		}
	}
	a.prospectorSamples = append(a.prospectorSamples, sample)
}

// HandleCapacityRefresh re-reads cargo capacity after a ship/module change
// that could have altered it (§4.5's ShipyardSwap/ModuleBuy/etc routing).
// The dispatcher doesn't carry the new capacity value itself; a collaborator
// that reads Status.json/Loadout is expected to call SetCargoCapacity.
func (a *Aggregator) HandleCapacityRefresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkCargoFullLocked()
}

// SetCargoCapacity updates the ship's tracked cargo capacity, read from
// Status.json/Loadout by a collaborator outside the journal event stream.
func (a *Aggregator) SetCargoCapacity(capacity int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentCargoCapacity = capacity
	a.checkCargoFullLocked()
}

func (a *Aggregator) checkCargoFullLocked() {
	if a.state != Active || a.currentCargoCapacity <= 0 {
		return
	}
	total := 0
	for _, n := range a.currentCargo {
		total += n
	}
	if total < a.currentCargoCapacity {
		a.cargoFullFired = false
		a.stopIdleTimerLocked()
		return
	}
	if a.cargoFullFired {
		return
	}
	a.cargoFullFired = true
	a.stopIdleTimerLocked()
	a.idleTimer = a.clock.NewTimer(a.cfg.FullCargoIdleWindow)
	go a.waitForCargoFullTimeout(a.idleTimer)
}

func (a *Aggregator) waitForCargoFullTimeout(timer timeutil.Timer) {
	<-timer.C()
	logging.WithComponent("session").Info("cargo full with no further delta, prompting to end session")
}

func (a *Aggregator) stopIdleTimerLocked() {
	if a.idleTimer != nil {
		a.idleTimer.Stop()
		a.idleTimer = nil
	}
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// cargoDeltas computes per-material delta = current - start, ignoring
// negatives (a drop in a material's count is never "mined", per §4.8).
func cargoDeltas(start, current map[string]int) map[string]int {
	out := map[string]int{}
	for material, now := range current {
		delta := now - start[material]
		if delta > 0 {
			out[material] = delta
		}
	}
	return out
}

// bestMaterial returns the material with the highest count, breaking ties
// alphabetically so the result is deterministic.
func bestMaterial(counts map[string]int) string {
	best, bestCount := "", 0
	for material, count := range counts {
		if count > bestCount || (count == bestCount && (best == "" || material < best)) {
			best, bestCount = material, count
		}
	}
	return best
}

func hitRate(samples []ProspectorSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	hits := 0
	for _, s := range samples {
		if s.HasMaterial {
			hits++
		}
	}
	return float64(hits) / float64(len(samples))
}

// averageQuality computes the mean of per-asteroid quality percentages
// using gonum's stat.Mean, matching the teacher's own use of gonum for
// descriptive statistics rather than a hand-rolled accumulator loop.
func averageQuality(samples []ProspectorSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Quality
	}
	return stat.Mean(values, nil)
}
