package hotspot

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("hotspot: not found")

// UpsertHotspot inserts or merges a Hotspot row, enforcing the store's
// conflict-resolution rules:
//
//  1. the natural key is (system_name, body_name, material_name); a second
//     report of the same key never duplicates a row. hotspot_count only
//     ever increases towards the highest value seen, never decreases (a
//     later, smaller ring-scan reading is a downgrade in information and
//     is discarded)
//  2. a newer scan_date that carries at least as many non-null ring
//     metadata fields than the row on file is merged in: scan_date
//     advances and the richer fields are adopted
//  3. a newer scan_date that carries strictly fewer non-null ring metadata
//     fields than the row on file keeps the stored scan_date and ring
//     metadata: a thinner newer reading never overwrites richer ring data
//     (its count and coordinates still go through rules 1 and 5)
//  4. anything else -- an update that isn't newer, or ties the existing
//     scan_date -- still back-fills any individual ring field the stored
//     row is missing, without touching count or scan_date
//  5. coordinates are accepted only from a source that outranks (or ties)
//     whatever source is already on file, per CoordSource precedence, and
//     data_source accumulates rather than overwrites
//
// After the row itself is resolved, its ring metadata is propagated to
// sibling material rows of the same ring within the same transaction, so a
// richer report of one material's ring never leaves other materials behind.
func (db *DB) UpsertHotspot(h Hotspot) error {
	return db.withTx(func(tx *sql.Tx) error {
		existing, found, err := loadHotspotRow(tx, h.System, h.Body, h.Material)
		if err != nil {
			return err
		}
		if !found {
			if err := db.insertHotspot(tx, h); err != nil {
				return err
			}
			return updateRingMetadataTx(tx, h.System, h.Body, h.Ring)
		}

		count := existing.Count
		if h.Count > count {
			count = h.Count
		}

		newer := h.ScanDate != "" && (existing.ScanDate == "" || h.ScanDate > existing.ScanDate)
		scanDate := existing.ScanDate
		ring := existing.Ring
		switch {
		case newer && ringMetadataScore(h.Ring) >= ringMetadataScore(existing.Ring):
			// rule 2: a newer report that is at least as complete replaces the
			// date and is merged in (a tie carries no richer-data loss risk).
			scanDate = h.ScanDate
			ring = ring.backfillFrom(h.Ring)
		case newer:
			// rule 3: newer but strictly less complete -- scan_date and ring
			// metadata stay as stored; count and coords still follow rules 1 and 5.
		default:
			// rule 4: not newer -- still adopt any field we lack.
			ring = ring.backfillFrom(h.Ring)
		}

		coordSource := existing.CoordSource
		x, y, z := existing.Coords.X, existing.Coords.Y, existing.Coords.Z
		if h.Coords.Valid && (!existing.Coords.Valid || h.CoordSource.outranks(coordSource) || h.CoordSource == coordSource) {
			x, y, z = h.Coords.X, h.Coords.Y, h.Coords.Z
			coordSource = h.CoordSource
		}

		dataSource := mergeDataSource(existing.DataSource, h.DataSource)

		if err := writeHotspotRow(tx, h.System, h.Body, h.Material, count, scanDate,
			Coords{X: x, Y: y, Z: z, Valid: existing.Coords.Valid || h.Coords.Valid}, coordSource, ring, dataSource); err != nil {
			return err
		}
		return updateRingMetadataTx(tx, h.System, h.Body, ring)
	})
}

// loadHotspotRow fetches one natural-key row, reporting found=false rather
// than an error when it doesn't exist yet.
func loadHotspotRow(tx *sql.Tx, system, body, material string) (Hotspot, bool, error) {
	rows, err := tx.Query(`
		SELECT system_name, body_name, material_name, hotspot_count, scan_date,
		       x, y, z, coord_source, ring_type, ls_distance, inner_radius, outer_radius,
		       mass, density_numeric, density_reserve, overlap_tag, res_tag, data_source
		FROM hotspot_data
		WHERE system_name = ? AND body_name = ? AND material_name = ?
	`, system, body, material)
	if err != nil {
		return Hotspot{}, false, fmt.Errorf("failed to look up existing hotspot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Hotspot{}, false, rows.Err()
	}
	h, err := scanHotspotRow(rows)
	if err != nil {
		return Hotspot{}, false, err
	}
	return h, true, nil
}

func writeHotspotRow(tx *sql.Tx, system, body, material string, count int, scanDate string,
	coords Coords, coordSource CoordSource, ring RingMetadata, dataSource string) error {
	densNum, densRes := densityColumns(ring.Density)
	_, err := tx.Exec(`
		UPDATE hotspot_data
		SET hotspot_count = ?, scan_date = ?, x = ?, y = ?, z = ?, coord_source = ?,
		    ring_type = ?, ls_distance = ?, inner_radius = ?, outer_radius = ?, mass = ?,
		    density_numeric = ?, density_reserve = ?, overlap_tag = ?, res_tag = ?,
		    data_source = ?, updated_at = ?
		WHERE system_name = ? AND body_name = ? AND material_name = ?
	`, count, nullableString(scanDate), coordOrNil(coords, 0), coordOrNil(coords, 1), coordOrNil(coords, 2),
		nullableString(string(coordSource)), nullableString(string(ring.RingType)),
		floatOrNil(ring.LSDistance), floatOrNil(ring.InnerRadius), floatOrNil(ring.OuterRadius),
		floatOrNil(ring.Mass), densNum, densRes, nullableString(tagString(ring.Overlap)),
		nullableString(tagString(ring.Res)), nullableString(dataSource), nowUTC(),
		system, body, material)
	if err != nil {
		return fmt.Errorf("failed to update hotspot: %w", err)
	}
	return nil
}

func densityColumns(d Density) (interface{}, interface{}) {
	if d.IsNumeric() {
		v, _ := d.Numeric()
		return v, nil
	}
	if d.IsReserve() {
		v, _ := d.Reserve()
		return nil, string(v)
	}
	return nil, nil
}

func (db *DB) insertHotspot(tx *sql.Tx, h Hotspot) error {
	densNum, densRes := densityColumns(h.Ring.Density)
	_, err := tx.Exec(`
		INSERT INTO hotspot_data
			(system_name, body_name, material_name, hotspot_count, scan_date,
			 x, y, z, coord_source, ring_type, ls_distance, inner_radius, outer_radius,
			 mass, density_numeric, density_reserve, overlap_tag, res_tag,
			 data_source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.System, h.Body, h.Material, h.Count, nullableString(h.ScanDate),
		coordOrNil(h.Coords, 0), coordOrNil(h.Coords, 1), coordOrNil(h.Coords, 2),
		nullableString(string(h.CoordSource)), nullableString(string(h.Ring.RingType)),
		floatOrNil(h.Ring.LSDistance), floatOrNil(h.Ring.InnerRadius), floatOrNil(h.Ring.OuterRadius),
		floatOrNil(h.Ring.Mass), densNum, densRes, nullableString(tagString(h.Ring.Overlap)),
		nullableString(tagString(h.Ring.Res)), nullableString(h.DataSource),
		nowUTC(), nowUTC())
	if err != nil {
		return fmt.Errorf("failed to insert hotspot: %w", err)
	}
	return nil
}

func coordOrNil(c Coords, axis int) interface{} {
	if !c.Valid {
		return nil
	}
	switch axis {
	case 0:
		return c.X
	case 1:
		return c.Y
	default:
		return c.Z
	}
}

// mergeDataSource appends a new source name to the existing comma-separated
// list if it is not already present, preserving provenance across merges.
func mergeDataSource(existing, next string) string {
	if next == "" {
		return existing
	}
	if existing == "" {
		return next
	}
	for _, part := range splitComma(existing) {
		if part == next {
			return existing
		}
	}
	return existing + "," + next
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// UpdateRingMetadata back-fills shared ring-level fields (ring type,
// distance, radii, mass, density, overlap/RES tags) onto every material row
// of a ring. A non-null incoming field only ever replaces a null existing
// field, except density which follows the tagged-union override rule in
// Density.OverrideWith, so that one material's report of a ring's physical
// properties propagates to sibling materials discovered later without
// clobbering values already confirmed by a different, equally valid report.
func (db *DB) UpdateRingMetadata(system, body string, meta RingMetadata) error {
	return db.withTx(func(tx *sql.Tx) error {
		return updateRingMetadataTx(tx, system, body, meta)
	})
}

// updateRingMetadataTx is the transaction-scoped core of UpdateRingMetadata,
// reused by UpsertHotspot so a single upsert's ring metadata propagates to
// sibling material rows of the same ring in the same transaction (§4.3 rule 5).
func updateRingMetadataTx(tx *sql.Tx, system, body string, meta RingMetadata) error {
	rows, err := tx.Query(`
		SELECT material_name, ring_type, ls_distance, inner_radius, outer_radius,
		       mass, density_numeric, density_reserve, overlap_tag, res_tag
		FROM hotspot_data
		WHERE system_name = ? AND body_name = ?
	`, system, body)
	if err != nil {
		return fmt.Errorf("failed to load ring rows: %w", err)
	}
	type row struct {
		material   string
		ringType   sql.NullString
		lsDistance sql.NullFloat64
		inner      sql.NullFloat64
		outer      sql.NullFloat64
		mass       sql.NullFloat64
		densityNum sql.NullFloat64
		densityRes sql.NullString
		overlap    sql.NullString
		res        sql.NullString
	}
	var existing []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.material, &r.ringType, &r.lsDistance, &r.inner, &r.outer,
			&r.mass, &r.densityNum, &r.densityRes, &r.overlap, &r.res); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan ring row: %w", err)
		}
		existing = append(existing, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(existing) == 0 {
		return fmt.Errorf("%w: no hotspot rows for %s / %s", ErrNotFound, system, body)
	}

	for _, r := range existing {
		ringType := firstNonEmpty(r.ringType.String, string(meta.RingType))
		lsDistance := firstNonNilFloat(floatPtrFromNull(r.lsDistance), meta.LSDistance)
		inner := firstNonNilFloat(floatPtrFromNull(r.inner), meta.InnerRadius)
		outer := firstNonNilFloat(floatPtrFromNull(r.outer), meta.OuterRadius)
		mass := firstNonNilFloat(floatPtrFromNull(r.mass), meta.Mass)

		current := densityFromColumns(r.densityNum, r.densityRes)
		merged := current.OverrideWith(meta.Density)

		overlap := firstNonEmpty(r.overlap.String, tagString(meta.Overlap))
		res := firstNonEmpty(r.res.String, tagString(meta.Res))

		var densNum interface{}
		var densRes interface{}
		if merged.IsNumeric() {
			v, _ := merged.Numeric()
			densNum = v
		} else if merged.IsReserve() {
			v, _ := merged.Reserve()
			densRes = string(v)
		}

		_, err := tx.Exec(`
			UPDATE hotspot_data
			SET ring_type = ?, ls_distance = ?, inner_radius = ?, outer_radius = ?,
			    mass = ?, density_numeric = ?, density_reserve = ?,
			    overlap_tag = ?, res_tag = ?, updated_at = ?
			WHERE system_name = ? AND body_name = ? AND material_name = ?
		`, nullableString(ringType), floatOrNil(lsDistance), floatOrNil(inner), floatOrNil(outer),
			floatOrNil(mass), densNum, densRes, nullableString(overlap), nullableString(res),
			nowUTC(), system, body, r.material)
		if err != nil {
			return fmt.Errorf("failed to update ring metadata for %s: %w", r.material, err)
		}
	}
	return nil
}

func densityFromColumns(numeric sql.NullFloat64, reserve sql.NullString) Density {
	if reserve.Valid && reserve.String != "" {
		return ReserveDensity(ReserveLevel(reserve.String))
	}
	if numeric.Valid {
		return NumericDensity(numeric.Float64)
	}
	return Density{}
}

func tagString[T ~string](p *T) string {
	if p == nil {
		return ""
	}
	return string(*p)
}

func floatPtrFromNull(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func firstNonEmpty(existing, incoming string) string {
	if existing != "" {
		return existing
	}
	return incoming
}

func firstNonNilFloat(existing, incoming *float64) *float64 {
	if existing != nil {
		return existing
	}
	return incoming
}

func floatOrNil(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// SetOverlapTag sets or clears the overlap tag on one (system, body,
// material) row (§4.3's `set_overlap_tag(system, body, material, tag|nil)`).
// A nil tag clears the column. If the ring has no row for this material yet,
// a hotspot_count=0 placeholder is inserted so the tag is never lost waiting
// on a real scan to create the row.
func (db *DB) SetOverlapTag(system, body, material string, tag *OverlapTag) error {
	return db.withTx(func(tx *sql.Tx) error {
		return setRingTagTx(tx, system, body, material, "overlap_tag", tagString(tag))
	})
}

// SetResTag sets or clears the RES tag on one (system, body, material) row,
// with the same placeholder-upsert behavior as SetOverlapTag.
func (db *DB) SetResTag(system, body, material string, tag *ResTag) error {
	return db.withTx(func(tx *sql.Tx) error {
		return setRingTagTx(tx, system, body, material, "res_tag", tagString(tag))
	})
}

// setRingTagTx backs both SetOverlapTag and SetResTag: it writes the named
// tag column on the (system, body, material) row if one already exists, and
// otherwise inserts a hotspot_count=0 placeholder row carrying just the tag.
// column is always one of the two literal strings above, never caller input.
func setRingTagTx(tx *sql.Tx, system, body, material, column, tag string) error {
	res, err := tx.Exec(fmt.Sprintf(`
		UPDATE hotspot_data SET %s = ?, updated_at = ?
		WHERE system_name = ? AND body_name = ? AND material_name = ?
	`, column), nullableString(tag), nowUTC(), system, body, material)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	_, err = tx.Exec(fmt.Sprintf(`
		INSERT INTO hotspot_data
			(system_name, body_name, material_name, hotspot_count, %s, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)
	`, column), system, body, material, nullableString(tag), nowUTC(), nowUTC())
	if err != nil {
		return fmt.Errorf("failed to insert placeholder row for %s: %w", column, err)
	}
	return nil
}

// GetBodyHotspots returns every material hotspot recorded for one body.
func (db *DB) GetBodyHotspots(system, body string) ([]Hotspot, error) {
	rows, err := db.Query(`
		SELECT system_name, body_name, material_name, hotspot_count, scan_date,
		       x, y, z, coord_source, ring_type, ls_distance, inner_radius, outer_radius,
		       mass, density_numeric, density_reserve, overlap_tag, res_tag, data_source
		FROM hotspot_data
		WHERE system_name = ? AND body_name = ?
		ORDER BY material_name
	`, system, body)
	if err != nil {
		return nil, fmt.Errorf("failed to query body hotspots: %w", err)
	}
	defer rows.Close()

	var out []Hotspot
	for rows.Next() {
		h, err := scanHotspotRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// sqliteMaxVariables is SQLite's default bound-parameter limit; queries
// with a large IN clause are chunked to stay under it.
const sqliteMaxVariables = 900

// HotspotsInSystems returns every hotspot row whose system_name is in
// systems, chunking the query into batches of at most sqliteMaxVariables
// names to stay under SQLite's bound-parameter limit (§4.7 step 3).
func (db *DB) HotspotsInSystems(systems []string) ([]Hotspot, error) {
	var out []Hotspot
	for start := 0; start < len(systems); start += sqliteMaxVariables {
		end := start + sqliteMaxVariables
		if end > len(systems) {
			end = len(systems)
		}
		chunk, err := db.hotspotsInSystemsChunk(systems[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (db *DB) hotspotsInSystemsChunk(systems []string) ([]Hotspot, error) {
	if len(systems) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(systems))
	args := make([]interface{}, len(systems))
	for i, s := range systems {
		placeholders[i] = "?"
		args[i] = s
	}
	query := fmt.Sprintf(`
		SELECT system_name, body_name, material_name, hotspot_count, scan_date,
		       x, y, z, coord_source, ring_type, ls_distance, inner_radius, outer_radius,
		       mass, density_numeric, density_reserve, overlap_tag, res_tag, data_source
		FROM hotspot_data
		WHERE system_name IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query hotspots in systems: %w", err)
	}
	defer rows.Close()

	var out []Hotspot
	for rows.Next() {
		h, err := scanHotspotRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHotspotRow(rows *sql.Rows) (Hotspot, error) {
	var (
		h                              Hotspot
		x, y, z                        sql.NullFloat64
		coordSource, ringType          sql.NullString
		lsDistance, inner, outer, mass sql.NullFloat64
		densityNum                     sql.NullFloat64
		densityRes, overlap, res       sql.NullString
		dataSource                     sql.NullString
		scanDate                       sql.NullString
	)
	err := rows.Scan(&h.System, &h.Body, &h.Material, &h.Count, &scanDate,
		&x, &y, &z, &coordSource, &ringType, &lsDistance, &inner, &outer,
		&mass, &densityNum, &densityRes, &overlap, &res, &dataSource)
	if err != nil {
		return Hotspot{}, fmt.Errorf("failed to scan hotspot row: %w", err)
	}
	h.ScanDate = scanDate.String
	h.CoordSource = CoordSource(coordSource.String)
	h.DataSource = dataSource.String
	if x.Valid && y.Valid && z.Valid {
		h.Coords = Coords{X: x.Float64, Y: y.Float64, Z: z.Float64, Valid: true}
	}
	h.Ring = RingMetadata{
		RingType:    RingType(ringType.String),
		LSDistance:  floatPtrFromNull(lsDistance),
		InnerRadius: floatPtrFromNull(inner),
		OuterRadius: floatPtrFromNull(outer),
		Mass:        floatPtrFromNull(mass),
		Density:     densityFromColumns(densityNum, densityRes),
	}
	if overlap.Valid && overlap.String != "" {
		v := OverlapTag(overlap.String)
		h.Ring.Overlap = &v
	}
	if res.Valid && res.String != "" {
		v := ResTag(res.String)
		h.Ring.Res = &v
	}
	return h, nil
}

// CheckRingExists reports whether any hotspot row is recorded for a body.
func (db *DB) CheckRingExists(system, body string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0 FROM hotspot_data WHERE system_name = ? AND body_name = ?
	`, system, body).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check ring existence: %w", err)
	}
	return exists, nil
}

// GetLSDistance returns the light-second distance recorded for a body, if any.
func (db *DB) GetLSDistance(system, body string) (float64, bool, error) {
	var ls sql.NullFloat64
	err := db.QueryRow(`
		SELECT ls_distance FROM hotspot_data
		WHERE system_name = ? AND body_name = ? AND ls_distance IS NOT NULL
		LIMIT 1
	`, system, body).Scan(&ls)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query ls_distance: %w", err)
	}
	return ls.Float64, ls.Valid, nil
}

// GetRingMetadata returns the shared ring-level metadata for a body, read
// off whichever material row has the most fields populated.
func (db *DB) GetRingMetadata(system, body string) (RingMetadata, error) {
	hotspots, err := db.GetBodyHotspots(system, body)
	if err != nil {
		return RingMetadata{}, err
	}
	if len(hotspots) == 0 {
		return RingMetadata{}, fmt.Errorf("%w: no hotspot rows for %s / %s", ErrNotFound, system, body)
	}
	best := hotspots[0].Ring
	for _, h := range hotspots[1:] {
		if ringMetadataScore(h.Ring) > ringMetadataScore(best) {
			best = h.Ring
		}
	}
	return best, nil
}

func ringMetadataScore(m RingMetadata) int {
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

// AddVisitedSystem records (or updates) a visit to a system, used as a
// fallback coordinate source when a system has no ring-scan data yet.
//
// visit_count only advances when the new visit's timestamp is strictly
// later than the stored last_visit (§3): replaying the same journal line,
// or processing out-of-order duplicates, must never double-count a visit.
func (db *DB) AddVisitedSystem(v VisitedSystem) error {
	return db.withTx(func(tx *sql.Tx) error {
		now := v.LastVisit
		if now == "" {
			now = nowUTC()
		}

		var existingLastVisit sql.NullString
		err := tx.QueryRow(`SELECT last_visit FROM visited_systems WHERE system_name = ?`, v.System).
			Scan(&existingLastVisit)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.Exec(`
				INSERT INTO visited_systems (system_name, x, y, z, first_visit, last_visit, visit_count)
				VALUES (?, ?, ?, ?, ?, ?, 1)
			`, v.System, coordOrNil(v.Coords, 0), coordOrNil(v.Coords, 1), coordOrNil(v.Coords, 2), now, now)
			if err != nil {
				return fmt.Errorf("failed to insert visited system: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("failed to look up visited system: %w", err)
		}

		if existingLastVisit.Valid && now <= existingLastVisit.String {
			// Not a newer visit: still overwrite the stored coordinates with
			// this report's, but never advance last_visit or visit_count.
			_, err = tx.Exec(`
				UPDATE visited_systems SET x = ?, y = ?, z = ? WHERE system_name = ?
			`, coordOrNil(v.Coords, 0), coordOrNil(v.Coords, 1), coordOrNil(v.Coords, 2), v.System)
			if err != nil {
				return fmt.Errorf("failed to refresh visited system coords: %w", err)
			}
			return nil
		}

		_, err = tx.Exec(`
			UPDATE visited_systems
			SET x = ?, y = ?, z = ?, last_visit = ?, visit_count = visit_count + 1
			WHERE system_name = ?
		`, coordOrNil(v.Coords, 0), coordOrNil(v.Coords, 1), coordOrNil(v.Coords, 2), now, v.System)
		if err != nil {
			return fmt.Errorf("failed to update visited system: %w", err)
		}
		return nil
	})
}

// GetVisitedSystem returns the visited-systems row for name, case-
// insensitively, used by C7's reference-coordinate resolution.
func (db *DB) GetVisitedSystem(name string) (VisitedSystem, bool, error) {
	var (
		v        VisitedSystem
		x, y, z  sql.NullFloat64
	)
	err := db.QueryRow(`
		SELECT system_name, x, y, z, first_visit, last_visit, visit_count
		FROM visited_systems WHERE system_name = ? COLLATE NOCASE
	`, name).Scan(&v.System, &x, &y, &z, &v.FirstVisit, &v.LastVisit, &v.VisitCount)
	if errors.Is(err, sql.ErrNoRows) {
		return VisitedSystem{}, false, nil
	}
	if err != nil {
		return VisitedSystem{}, false, fmt.Errorf("failed to query visited system: %w", err)
	}
	if x.Valid && y.Valid && z.Valid {
		v.Coords = Coords{X: x.Float64, Y: y.Float64, Z: z.Float64, Valid: true}
	}
	return v, true, nil
}

// VisitedSystemsInBBox returns every visited system with known coordinates
// inside the axis-aligned cube of half-side r centered on (cx, cy, cz),
// mirroring the galaxy index's SystemsInBBox for C7's candidate union.
func (db *DB) VisitedSystemsInBBox(cx, cy, cz, r float64) ([]VisitedSystem, error) {
	rows, err := db.Query(`
		SELECT system_name, x, y, z, first_visit, last_visit, visit_count
		FROM visited_systems
		WHERE x IS NOT NULL AND y IS NOT NULL AND z IS NOT NULL
		  AND x BETWEEN ? AND ? AND y BETWEEN ? AND ? AND z BETWEEN ? AND ?
	`, cx-r, cx+r, cy-r, cy+r, cz-r, cz+r)
	if err != nil {
		return nil, fmt.Errorf("failed to query visited systems in bbox: %w", err)
	}
	defer rows.Close()

	var out []VisitedSystem
	for rows.Next() {
		var (
			v       VisitedSystem
			x, y, z sql.NullFloat64
		)
		if err := rows.Scan(&v.System, &x, &y, &z, &v.FirstVisit, &v.LastVisit, &v.VisitCount); err != nil {
			return nil, fmt.Errorf("failed to scan visited system row: %w", err)
		}
		if x.Valid && y.Valid && z.Valid {
			v.Coords = Coords{X: x.Float64, Y: y.Float64, Z: z.Float64, Valid: true}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
