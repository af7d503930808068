package hotspot

import "fmt"

// ReserveLevel is a qualitative richness tag for a ring.
type ReserveLevel string

const (
	ReservePristine ReserveLevel = "Pristine"
	ReserveMajor    ReserveLevel = "Major"
	ReserveCommon   ReserveLevel = "Common"
	ReserveLow      ReserveLevel = "Low"
	ReserveDepleted ReserveLevel = "Depleted"
)

// Density is a tagged union: a ring's density column is either a numeric
// area-based density or a textual reserve-level tag. Textual reserve
// information is considered higher value and, once set, can only be
// overwritten by a *different* reserve-level string -- never by a number.
// Modeling this as a sum type (rather than a loosely-typed string column)
// keeps the override rule from §3/§4.3 enforceable in one place instead of
// scattered across every caller that touches the column.
type Density struct {
	numeric  float64
	reserve  ReserveLevel
	isNumber bool
	isSet    bool
}

// NumericDensity constructs a Density holding a measured area-based value.
func NumericDensity(v float64) Density {
	return Density{numeric: v, isNumber: true, isSet: true}
}

// ReserveDensity constructs a Density holding a reserve-level tag.
func ReserveDensity(r ReserveLevel) Density {
	return Density{reserve: r, isNumber: false, isSet: true}
}

// IsZero reports whether the density is unset.
func (d Density) IsZero() bool { return !d.isSet }

// IsNumeric reports whether the density holds a numeric value.
func (d Density) IsNumeric() bool { return d.isSet && d.isNumber }

// IsReserve reports whether the density holds a reserve-level tag.
func (d Density) IsReserve() bool { return d.isSet && !d.isNumber }

// Numeric returns the numeric value and true if the density is numeric.
func (d Density) Numeric() (float64, bool) {
	if d.isSet && d.isNumber {
		return d.numeric, true
	}
	return 0, false
}

// Reserve returns the reserve-level tag and true if the density holds one.
func (d Density) Reserve() (ReserveLevel, bool) {
	if d.isSet && !d.isNumber {
		return d.reserve, true
	}
	return "", false
}

func (d Density) String() string {
	if !d.isSet {
		return ""
	}
	if d.isNumber {
		return fmt.Sprintf("%.6f", d.numeric)
	}
	return string(d.reserve)
}

// OverrideWith decides whether a new density value should replace this one,
// per the tagged-union override rule: a numeric density may be overwritten
// by a reserve-level string (text beats a number); a reserve-level string
// may be overwritten only by a *different* reserve-level string, never by a
// number. Returns the density that should be stored.
func (d Density) OverrideWith(next Density) Density {
	if next.IsZero() {
		return d
	}
	if d.IsZero() {
		return next
	}
	if d.IsNumeric() {
		// Numeric beaten by anything incoming (reserve text, or a newer number).
		return next
	}
	// d is a reserve tag: only a different reserve tag may replace it.
	if next.IsReserve() {
		curr, _ := d.Reserve()
		incoming, _ := next.Reserve()
		if incoming != curr {
			return next
		}
		return d
	}
	// next is numeric: never overwrites an existing reserve tag.
	return d
}

// RingType is the physical composition of a planetary ring.
type RingType string

const (
	RingRocky      RingType = "Rocky"
	RingMetallic   RingType = "Metallic"
	RingMetalRich  RingType = "Metal Rich"
	RingIcy        RingType = "Icy"
	RingUnknown    RingType = "Unknown"
)

// OverlapTag marks a ring with overlapping material hotspots.
type OverlapTag string

const (
	Overlap2x OverlapTag = "2x"
	Overlap3x OverlapTag = "3x"
)

// ResTag marks a ring with a nearby Resource Extraction Site.
type ResTag string

const (
	ResHazardous ResTag = "Hazardous"
	ResHigh      ResTag = "High"
	ResLow       ResTag = "Low"
)

// CoordSource records where a hotspot row's coordinates came from, used to
// enforce the coord-source precedence rule in upserts.
type CoordSource string

const (
	CoordJournal        CoordSource = "journal"
	CoordVisitedSystems CoordSource = "visited_systems"
	CoordEDTools        CoordSource = "edtools"
	CoordSpansh         CoordSource = "spansh"
	CoordOverlapCSV     CoordSource = "overlap_csv"
	CoordResCSV         CoordSource = "res_csv"
	CoordUnknown        CoordSource = "unknown"
)

// coordSourceRank orders sources from highest to lowest precedence; lower
// rank numbers never get overwritten by higher ones.
var coordSourceRank = map[CoordSource]int{
	CoordJournal:        0,
	CoordVisitedSystems: 1,
	CoordEDTools:        2,
	CoordSpansh:         2,
	CoordOverlapCSV:     2,
	CoordResCSV:         2,
	CoordUnknown:        3,
	"":                  3,
}

// outranks reports whether source a takes precedence over source b (a
// should win when both claim to supply coordinates for the same row).
func (a CoordSource) outranks(b CoordSource) bool {
	ra, ok := coordSourceRank[a]
	if !ok {
		ra = coordSourceRank[CoordUnknown]
	}
	rb, ok := coordSourceRank[b]
	if !ok {
		rb = coordSourceRank[CoordUnknown]
	}
	return ra < rb
}

// Coords is an optional (x, y, z) position in light-years.
type Coords struct {
	X, Y, Z float64
	Valid   bool
}

// RingMetadata is the set of fields shared across every material row of one
// ring; whenever one row has a non-null field, sibling rows with a null
// value for that field must be back-filled in the same transaction.
type RingMetadata struct {
	RingType    RingType
	LSDistance  *float64
	InnerRadius *float64
	OuterRadius *float64
	Mass        *float64
	Density     Density
	Overlap     *OverlapTag
	Res         *ResTag
}

// backfillFrom returns a copy of m with any null field filled in from
// incoming. Fields already populated on m are left untouched, except
// Density, which follows the tagged-union override rule instead of a plain
// null check. UpsertHotspot uses it for a report that is newer and at least
// as rich as the row on file (§4.3 rule 2) and for one that is not newer
// (rule 4); a newer but thinner report does not reach it (rule 3).
func (m RingMetadata) backfillFrom(incoming RingMetadata) RingMetadata {
	out := m
	if out.RingType == "" {
		out.RingType = incoming.RingType
	}
	if out.LSDistance == nil {
		out.LSDistance = incoming.LSDistance
	}
	if out.InnerRadius == nil {
		out.InnerRadius = incoming.InnerRadius
	}
	if out.OuterRadius == nil {
		out.OuterRadius = incoming.OuterRadius
	}
	if out.Mass == nil {
		out.Mass = incoming.Mass
	}
	out.Density = out.Density.OverrideWith(incoming.Density)
	if out.Overlap == nil {
		out.Overlap = incoming.Overlap
	}
	if out.Res == nil {
		out.Res = incoming.Res
	}
	return out
}

// Hotspot is one row of the hotspot store, keyed by
// (system name, normalized body name, canonical material name).
type Hotspot struct {
	System      string
	Body        string
	Material    string
	Count       int
	ScanDate    string
	Coords      Coords
	CoordSource CoordSource
	Ring        RingMetadata
	DataSource  string
}

// VisitedSystem is a mutable record of a system the player has visited.
type VisitedSystem struct {
	System     string
	Coords     Coords
	FirstVisit string
	LastVisit  string
	VisitCount int
}
