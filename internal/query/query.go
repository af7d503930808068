// Package query implements the ring finder (C7): resolving a reference
// system, pre-filtering candidate systems by bounding box, looking up
// their hotspot rows, and applying the ring-type/material/confirmed/
// distance filters described in spec.md §4.7.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/eliteminer/core/internal/galaxy"
	"github.com/eliteminer/core/internal/hotspot"
)

// maxDistanceCapLY is the hard ceiling on a query's max-distance filter,
// regardless of what the caller asks for (§4.7 inputs).
const maxDistanceCapLY = 100

// Filter describes one ring-finder query.
type Filter struct {
	ReferenceSystem string
	RingType        hotspot.RingType // zero value means "All"
	Material        string           // empty means "All"
	ConfirmedOnly   bool
	MaxDistanceLY   float64
	MaxResults      int // 0 means "all"
}

// Result is one row of a ring-finder query result, already sorted.
type Result struct {
	DistanceLY    float64
	LightSeconds  float64
	System        string
	Visited       bool
	Body          string
	RingType      hotspot.RingType
	HotspotsLabel string
	DensityLabel  string
}

// lyToLightSeconds converts a light-year distance to light-seconds, the
// unit the in-game nav panel actually shows: a light-year is the distance
// light travels in one Julian year.
const lyToLightSeconds = 365.25 * 86400

// Engine runs ring-finder queries against the hotspot store and the galaxy
// coordinate index.
type Engine struct {
	hotspots *hotspot.DB
	galaxyDB *galaxy.DB
	external ExternalResolver
}

// ExternalResolver is an optional last-resort coordinate lookup for a
// reference system not found in either local index (§4.7 step 1).
type ExternalResolver interface {
	Coords(system string) (x, y, z float64, ok bool, err error)
}

// New builds an Engine. external may be nil to disable the last-resort
// lookup.
func New(hotspots *hotspot.DB, galaxyDB *galaxy.DB, external ExternalResolver) *Engine {
	return &Engine{hotspots: hotspots, galaxyDB: galaxyDB, external: external}
}

// ErrReferenceNotFound is returned when no coordinate source knows the
// requested reference system.
type ErrReferenceNotFound struct {
	System string
}

func (e *ErrReferenceNotFound) Error() string {
	return fmt.Sprintf("query: reference system %q not found in any coordinate source", e.System)
}

// resolveReference implements §4.7 step 1: visited-systems, then the galaxy
// index, then (optionally) an external API.
func (e *Engine) resolveReference(system string) (r3.Vec, error) {
	if v, found, err := e.hotspots.GetVisitedSystem(system); err != nil {
		return r3.Vec{}, fmt.Errorf("query: look up visited system: %w", err)
	} else if found && v.Coords.Valid {
		return r3.Vec{X: v.Coords.X, Y: v.Coords.Y, Z: v.Coords.Z}, nil
	}

	if e.galaxyDB != nil {
		if x, y, z, ok, err := e.galaxyDB.Coords(system); err != nil {
			return r3.Vec{}, fmt.Errorf("query: look up galaxy index: %w", err)
		} else if ok {
			return r3.Vec{X: x, Y: y, Z: z}, nil
		}
	}

	if e.external != nil {
		if x, y, z, ok, err := e.external.Coords(system); err != nil {
			return r3.Vec{}, fmt.Errorf("query: external coordinate lookup: %w", err)
		} else if ok {
			return r3.Vec{X: x, Y: y, Z: z}, nil
		}
	}

	return r3.Vec{}, &ErrReferenceNotFound{System: system}
}

// Find runs a ring-finder query and returns sorted, truncated results.
func (e *Engine) Find(f Filter) ([]Result, error) {
	maxDistance := f.MaxDistanceLY
	if maxDistance <= 0 || maxDistance > maxDistanceCapLY {
		maxDistance = maxDistanceCapLY
	}
	// Confirmed-only is implied once a specific material is requested,
	// since an unconfirmed row has no meaningful material count (§4.7 step 4).
	confirmedOnly := f.ConfirmedOnly || f.Material != ""

	ref, err := e.resolveReference(f.ReferenceSystem)
	if err != nil {
		return nil, err
	}

	candidates, visited, err := e.candidateSystems(ref, maxDistance)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	names := lo.Keys(candidates)
	coordsByName := candidates

	rows, err := e.hotspots.HotspotsInSystems(names)
	if err != nil {
		return nil, fmt.Errorf("query: look up hotspots: %w", err)
	}

	grouped := groupByBody(rows)

	var results []Result
	for key, group := range grouped {
		systemName := key.system
		pos, ok := coordsByName[systemName]
		if !ok {
			// The store has a coordinate source (journal/spansh/etc) of its
			// own for this row; fall back to whatever the row carries.
			for _, h := range group {
				if h.Coords.Valid {
					pos = r3.Vec{X: h.Coords.X, Y: h.Coords.Y, Z: h.Coords.Z}
					ok = true
					break
				}
			}
		}
		if !ok {
			continue
		}
		dist := distanceLY(ref, pos)
		if dist > maxDistance {
			continue
		}

		ring := mergedRingMetadata(group)
		if f.RingType != "" && ring.RingType != f.RingType {
			continue
		}
		matched := filterByMaterial(group, f.Material)
		if len(matched) == 0 {
			continue
		}
		if confirmedOnly {
			matched = filterConfirmed(matched)
			if len(matched) == 0 {
				continue
			}
		}

		results = append(results, Result{
			DistanceLY:    dist,
			LightSeconds:  dist * lyToLightSeconds,
			System:        systemName,
			Visited:       visited[systemName],
			Body:          key.body,
			RingType:      ring.RingType,
			HotspotsLabel: formatHotspots(matched),
			DensityLabel:  ring.Density.String(),
		})
	}

	sortResults(results)
	if f.MaxResults > 0 && len(results) > f.MaxResults {
		results = results[:f.MaxResults]
	}
	return results, nil
}

// candidateSystems implements §4.7 step 2: the union of galaxy-index and
// visited-systems bounding-box pre-filters, precise-distance checked.
func (e *Engine) candidateSystems(ref r3.Vec, maxDistance float64) (map[string]r3.Vec, map[string]bool, error) {
	out := map[string]r3.Vec{}
	visited := map[string]bool{}

	if e.galaxyDB != nil {
		systems, err := e.galaxyDB.SystemsInBBox(ref.X, ref.Y, ref.Z, maxDistance)
		if err != nil {
			return nil, nil, fmt.Errorf("query: galaxy bbox lookup: %w", err)
		}
		for _, s := range systems {
			pos := r3.Vec{X: s.X, Y: s.Y, Z: s.Z}
			if distanceLY(ref, pos) <= maxDistance {
				out[s.Name] = pos
			}
		}
	}

	visitedSystems, err := e.hotspots.VisitedSystemsInBBox(ref.X, ref.Y, ref.Z, maxDistance)
	if err != nil {
		return nil, nil, fmt.Errorf("query: visited-systems bbox lookup: %w", err)
	}
	for _, v := range visitedSystems {
		pos := r3.Vec{X: v.Coords.X, Y: v.Coords.Y, Z: v.Coords.Z}
		if distanceLY(ref, pos) <= maxDistance {
			out[v.System] = pos
			visited[v.System] = true
		}
	}

	return out, visited, nil
}

func distanceLY(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}

type bodyKey struct {
	system, body string
}

func groupByBody(rows []hotspot.Hotspot) map[bodyKey][]hotspot.Hotspot {
	return lo.GroupBy(rows, func(h hotspot.Hotspot) bodyKey {
		return bodyKey{h.System, h.Body}
	})
}

// mergedRingMetadata picks the most complete ring metadata across a body's
// material rows. C3 already propagates ring metadata to every sibling
// material row in the same transaction, so in the common case every row
// agrees; this only matters for rows written before a later backfill caught
// up with the rest of the ring.
func mergedRingMetadata(rows []hotspot.Hotspot) hotspot.RingMetadata {
	best := rows[0].Ring
	bestScore := ringMetadataFieldCount(best)
	for _, h := range rows[1:] {
		if score := ringMetadataFieldCount(h.Ring); score > bestScore {
			best, bestScore = h.Ring, score
		}
	}
	return best
}

func ringMetadataFieldCount(m hotspot.RingMetadata) int {
	score := 0
	if m.RingType != "" {
		score++
	}
	if m.LSDistance != nil {
		score++
	}
	if m.InnerRadius != nil {
		score++
	}
	if m.OuterRadius != nil {
		score++
	}
	if m.Mass != nil {
		score++
	}
	if !m.Density.IsZero() {
		score++
	}
	if m.Overlap != nil {
		score++
	}
	if m.Res != nil {
		score++
	}
	return score
}

func filterByMaterial(rows []hotspot.Hotspot, material string) []hotspot.Hotspot {
	if material == "" {
		return rows
	}
	canonical := hotspot.NormalizeMaterialName(material)
	return lo.Filter(rows, func(h hotspot.Hotspot, _ int) bool {
		return strings.EqualFold(h.Material, canonical)
	})
}

func filterConfirmed(rows []hotspot.Hotspot) []hotspot.Hotspot {
	return lo.Filter(rows, func(h hotspot.Hotspot, _ int) bool { return h.Count > 0 })
}

// formatHotspots renders a body's matched materials as e.g.
// "Platinum (3), Painite (2)" (§4.7 result fields).
func formatHotspots(rows []hotspot.Hotspot) string {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Material < rows[j].Material })
	parts := make([]string, 0, len(rows))
	for _, h := range rows {
		parts = append(parts, fmt.Sprintf("%s (%d)", h.Material, h.Count))
	}
	return strings.Join(parts, ", ")
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.DistanceLY != b.DistanceLY {
			return a.DistanceLY < b.DistanceLY
		}
		totalA, totalB := hotspotTotal(a), hotspotTotal(b)
		if totalA != totalB {
			return totalA > totalB
		}
		if a.System != b.System {
			return a.System < b.System
		}
		return a.Body < b.Body
	})
}

// hotspotTotal recovers the total hotspot_count driving sort order from the
// formatted label, avoiding a second pass through the raw rows.
func hotspotTotal(r Result) int {
	total := 0
	for _, part := range strings.Split(r.HotspotsLabel, ", ") {
		open := strings.LastIndex(part, "(")
		shut := strings.LastIndex(part, ")")
		if open < 0 || shut < 0 || shut < open {
			continue
		}
		var n int
		fmt.Sscanf(part[open+1:shut], "%d", &n)
		total += n
	}
	return total
}
