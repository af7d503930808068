package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/eliteminer/core/internal/dispatch"
	"github.com/eliteminer/core/internal/hotspot"
	"github.com/eliteminer/core/internal/httputil"
	"github.com/eliteminer/core/internal/logging"
)

// Enricher looks up external coordinate/body data for a system the store
// hasn't seen before. Spansh and EDSM both satisfy this shape; a nil
// Enricher disables enrichment entirely (headless/offline import).
type Enricher interface {
	Lookup(ctx context.Context, system string) (hotspot.Coords, hotspot.CoordSource, bool, error)
}

// Ingestor applies Scan and SAASignalsFound events to the hotspot store. It
// satisfies dispatch.Ingestor.
type Ingestor struct {
	db       *hotspot.DB
	enricher Enricher
}

// New builds an Ingestor. enricher may be nil to disable external lookups.
func New(db *hotspot.DB, enricher Enricher) *Ingestor {
	return &Ingestor{db: db, enricher: enricher}
}

var _ dispatch.Ingestor = (*Ingestor)(nil)

// HandleSignalsFound records every hotspot signal reported for one ring
// body (§4.6):
//
//  1. resolve which system the ring actually belongs to (most of the time
//     the caller's tracked current system; see deriveSystemAndBody for the
//     multi-star exception)
//  2. normalize the ring's body name and each signal's material name
//  3. upsert one hotspot row per Commodity-type signal, coord_source
//     "journal" since this data came straight from the player's own scan
//  4. on the first time this exact ring is seen, ask the enricher (if any)
//     for a coordinate to use when the journal itself didn't carry one;
//     enrichment failures are logged and otherwise ignored -- a slow or
//     unreachable external API must never block ingestion of the scan
//     that's actually in hand
func (ing *Ingestor) HandleSignalsFound(system string, coords hotspot.Coords, ev dispatch.SAASignalsFoundEvent) error {
	log := logging.WithComponent("ingest")
	resolvedSystem, body := deriveSystemAndBody(ev.BodyName, system)
	if resolvedSystem == "" || body == "" {
		log.WithField("raw_body", ev.BodyName).Warn("could not resolve system/body for signals-found event, skipping")
		return nil
	}

	firstSeen, err := ing.db.CheckRingExists(resolvedSystem, body)
	if err != nil {
		return fmt.Errorf("ingest: check ring exists: %w", err)
	}
	firstSeen = !firstSeen

	coordSource := hotspot.CoordJournal
	if !coords.Valid {
		coordSource = hotspot.CoordUnknown
	}
	if firstSeen && !coords.Valid && ing.enricher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		enriched, source, ok, err := ing.enricher.Lookup(ctx, resolvedSystem)
		cancel()
		switch {
		case err != nil:
			log.WithField("system", resolvedSystem).WithError(err).Warn("enrichment lookup failed, continuing without coordinates")
		case ok:
			coords, coordSource = enriched, source
		}
	}

	// A single SAASignalsFound event can list the same material more than
	// once (e.g. a re-scanned ring merged with a partial earlier reading);
	// merge those into one count per material before upserting so a repeat
	// entry never produces two competing rows for the same material.
	countsByMaterial := lo.Reduce(ev.Signals, func(acc map[string]int, sig dispatch.SAASignal, _ int) map[string]int {
		material := hotspot.NormalizeMaterialName(sig.Type)
		if material != "" && sig.Count > 0 {
			acc[material] += sig.Count
		}
		return acc
	}, map[string]int{})

	var result *multierror.Error
	for _, material := range lo.Keys(countsByMaterial) {
		h := hotspot.Hotspot{
			System:      resolvedSystem,
			Body:        body,
			Material:    material,
			Count:       countsByMaterial[material],
			ScanDate:    nowUTC(),
			Coords:      coords,
			CoordSource: coordSource,
			DataSource:  "journal",
		}
		if err := ing.db.UpsertHotspot(h); err != nil {
			result = multierror.Append(result, fmt.Errorf("ingest: upsert %s/%s/%s: %w", resolvedSystem, body, material, err))
		}
	}
	return result.ErrorOrNil()
}

// HandleScan extracts ring metadata (type, radii, mass, density) from a body
// scan and pushes it into the store (§4.6). A scan with no usable rings was
// already filtered out by the dispatcher before reaching here.
func (ing *Ingestor) HandleScan(system string, coords hotspot.Coords, ev dispatch.ScanEvent) error {
	log := logging.WithComponent("ingest")
	var result *multierror.Error
	for _, r := range ev.Rings {
		resolvedSystem, body := deriveSystemAndBody(r.Name, system)
		if resolvedSystem == "" || body == "" {
			log.WithField("raw_ring", r.Name).Warn("could not resolve system/body for scan ring, skipping")
			continue
		}
		inner, outer := r.InnerRad, r.OuterRad
		meta := hotspot.RingMetadata{
			RingType:    ringTypeFromClass(r.RingClass),
			InnerRadius: floatPtr(inner),
			OuterRadius: floatPtr(outer),
			Mass:        floatPtr(r.MassMT),
			Density:     ringDensity(r.MassMT, inner, outer),
		}
		if err := ing.db.UpdateRingMetadata(resolvedSystem, body, meta); err != nil {
			result = multierror.Append(result, fmt.Errorf("ingest: update ring metadata %s/%s: %w", resolvedSystem, body, err))
		}
	}
	return result.ErrorOrNil()
}

func floatPtr(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// SpanshEnricher looks up system coordinates from Spansh's public system
// search API, used as a coordinate source of last resort for a ring body
// whose journal event carried no star position (§4.3/§6).
type SpanshEnricher struct {
	Client  httputil.HTTPClient
	BaseURL string
}

type spanshSystemResponse struct {
	System struct {
		Coords struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
			Z float64 `json:"z"`
		} `json:"coords"`
	} `json:"system"`
}

// Lookup satisfies Enricher.
func (s *SpanshEnricher) Lookup(ctx context.Context, system string) (hotspot.Coords, hotspot.CoordSource, bool, error) {
	base := s.BaseURL
	if base == "" {
		base = "https://www.spansh.co.uk/api/system"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?system="+system, nil)
	if err != nil {
		return hotspot.Coords{}, hotspot.CoordUnknown, false, fmt.Errorf("spansh: build request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return hotspot.Coords{}, hotspot.CoordUnknown, false, fmt.Errorf("spansh: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return hotspot.Coords{}, hotspot.CoordUnknown, false, fmt.Errorf("spansh: unexpected status %d", resp.StatusCode)
	}

	var parsed spanshSystemResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return hotspot.Coords{}, hotspot.CoordUnknown, false, fmt.Errorf("spansh: decode response: %w", err)
	}
	coords := hotspot.Coords{X: parsed.System.Coords.X, Y: parsed.System.Coords.Y, Z: parsed.System.Coords.Z, Valid: true}
	return coords, hotspot.CoordSpansh, true, nil
}
