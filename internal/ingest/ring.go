// Package ingest applies Scan and SAASignalsFound journal events to the
// hotspot store: it is C6, the ring/hotspot ingestor, described in §4.6.
package ingest

import (
	"math"
	"regexp"
	"strings"

	"github.com/eliteminer/core/internal/hotspot"
)

// ringClassNames maps the journal's internal RingClass enum string onto the
// store's display RingType. Anything unrecognized maps to RingUnknown rather
// than erroring -- a new ring class added by a game update should never stop
// ingestion of everything else in the line.
var ringClassNames = map[string]hotspot.RingType{
	"eRingClass_Metalic":   hotspot.RingMetallic,
	"eRingClass_Metallic":  hotspot.RingMetallic,
	"eRingClass_MetalRich": hotspot.RingMetalRich,
	"eRingClass_Rocky":     hotspot.RingRocky,
	"eRingClass_Icy":       hotspot.RingIcy,
}

// ringTypeFromClass converts a journal RingClass string to a RingType.
func ringTypeFromClass(class string) hotspot.RingType {
	if rt, ok := ringClassNames[class]; ok {
		return rt
	}
	return hotspot.RingUnknown
}

// ringDensity computes a ring's area-based density from its mass and radii
// per §4.6/§8 scenario 2:
//
//	density = mass / (pi * ((outer/1000)^2 - (inner/1000)^2))
//
// rounded to 6 decimal places. Returns a zero Density (unset) when the
// radii are non-positive or the ring is degenerate (outer <= inner), since
// the formula is undefined or meaningless in that case.
func ringDensity(massMT, innerRad, outerRad float64) hotspot.Density {
	if massMT <= 0 || innerRad <= 0 || outerRad <= 0 || outerRad <= innerRad {
		return hotspot.Density{}
	}
	innerScaled := innerRad / 1000
	outerScaled := outerRad / 1000
	area := math.Pi * (outerScaled*outerScaled - innerScaled*innerScaled)
	if area <= 0 {
		return hotspot.Density{}
	}
	density := massMT / area
	rounded := math.Round(density*1e6) / 1e6
	return hotspot.NumericDensity(rounded)
}

// ringSuffixPattern matches the trailing "<N> [<letter> ]<LETTER> Ring"
// designator of a ring body name, e.g. "2 A Ring" or "2 a A Ring". Case is
// significant: the lowercase sub-letter and uppercase ring letter are
// distinct rings and must never be folded together.
var ringSuffixPattern = regexp.MustCompile(`\d+\s+(?:[a-z]\s+)?[A-Z]\s+Ring\s*$`)

// deriveSystemAndBody figures out which system a ring body actually belongs
// to. Most of the time body already starts with currentSystem and the
// caller's tracked location is correct. Some multi-star systems report a
// ring body whose name carries a *different* leading system name than the
// one last visited (§9's multi-star-normalization note); when that happens
// the true system is whatever precedes the ring's "<N> ... Ring" suffix,
// not the last FSDJump destination.
func deriveSystemAndBody(rawBody, currentSystem string) (system, body string) {
	trimmed := strings.TrimSpace(rawBody)
	if hasCaseInsensitivePrefix(trimmed, currentSystem) {
		return currentSystem, hotspot.NormalizeBodyName(trimmed, currentSystem)
	}

	loc := ringSuffixPattern.FindStringIndex(trimmed)
	if loc == nil {
		return currentSystem, hotspot.NormalizeBodyName(trimmed, currentSystem)
	}
	prefix := strings.TrimSpace(trimmed[:loc[0]])
	suffix := strings.TrimSpace(trimmed[loc[0]:])
	if prefix == "" {
		return currentSystem, suffix
	}
	return prefix, suffix
}

func hasCaseInsensitivePrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// cleanRingDisplayName produces the human-facing ring name shown in reports
// and query results: the system prefix stripped, internal whitespace
// collapsed, with the ring letter's case left exactly as reported (a
// lowercase sub-letter distinguishes a genuinely different ring and must
// never be upcased away).
func cleanRingDisplayName(rawBody, system string) string {
	return hotspot.NormalizeBodyName(rawBody, system)
}
