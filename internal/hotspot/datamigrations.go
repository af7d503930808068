package hotspot

import (
	"bytes"
	"database/sql"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/eliteminer/core/internal/logging"
)

// DataMigration is one named, versioned, idempotent business-logic pass over
// the hotspot store. Unlike the schema migrations in migrations/, these
// operate on data already shaped by the latest schema and are tracked in
// migration_history by name rather than by golang-migrate's sequential
// version counter, since they can run in any order relative to each other
// as long as each runs at most once.
type DataMigration struct {
	Name    string
	Version int
	Run     func(db *DB) error
}

// dataMigrations is the ordered pipeline described in the design: normalize
// material aliases recorded before the alias table existed, repair body
// names that carry a different system's prefix, collapse multi-star
// sub-designations,
// merge the overlap and RES CSV overlays, and merge the bundled hotspot
// seed data shipped with the application.
var dataMigrations = []DataMigration{
	{Name: "normalize_material_aliases", Version: 1, Run: migrateNormalizeMaterialAliases},
	{Name: "repair_missing_system_prefix", Version: 2, Run: migrateRepairMissingSystemPrefix},
	{Name: "collapse_multistar_designation", Version: 3, Run: migrateCollapseMultiStarDesignation},
	{Name: "merge_overlap_overlay", Version: 4, Run: migrateMergeOverlapOverlay},
	{Name: "merge_res_overlay", Version: 5, Run: migrateMergeResOverlay},
	{Name: "merge_bundled_hotspots", Version: 6, Run: migrateMergeBundledHotspots},
}

// RunDataMigrations applies every pending entry of dataMigrations in order,
// recording each as it completes so a later call is a no-op for migrations
// already applied. One migration's failure does not prevent earlier ones
// from having been durably recorded; it does stop the remaining pipeline.
func (db *DB) RunDataMigrations() error {
	log := logging.WithComponent("hotspot")
	for _, m := range dataMigrations {
		applied, err := db.dataMigrationApplied(m.Name)
		if err != nil {
			return fmt.Errorf("failed to check migration_history for %q: %w", m.Name, err)
		}
		if applied {
			continue
		}
		log.WithField("migration", m.Name).Info("applying data migration")
		if err := m.Run(db); err != nil {
			return fmt.Errorf("data migration %q failed: %w", m.Name, err)
		}
		if err := db.recordDataMigration(m.Name, m.Version); err != nil {
			return fmt.Errorf("failed to record data migration %q: %w", m.Name, err)
		}
	}
	return nil
}

func (db *DB) dataMigrationApplied(name string) (bool, error) {
	var applied bool
	err := db.QueryRow(`SELECT COUNT(*) > 0 FROM migration_history WHERE name = ?`, name).Scan(&applied)
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (db *DB) recordDataMigration(name string, version int) error {
	_, err := db.Exec(`
		INSERT INTO migration_history (name, version, applied_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, version, nowUTC())
	return err
}

// migrateNormalizeMaterialAliases rewrites every material_name to its
// canonical form per the alias table, merging rows that collide once
// normalized (e.g. rows separately recorded as "opal" and "Void Opal"
// collapse onto the single canonical "Void Opals" row, keeping the higher
// hotspot_count and the more recent scan_date per the upsert rules).
func migrateNormalizeMaterialAliases(db *DB) error {
	rows, err := db.Query(`SELECT id, system_name, body_name, material_name FROM hotspot_data`)
	if err != nil {
		return err
	}
	type candidate struct {
		id                          int64
		system, body, material      string
	}
	var stale []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.system, &c.body, &c.material); err != nil {
			rows.Close()
			return err
		}
		canonical := NormalizeMaterialName(c.material)
		if canonical != c.material {
			stale = append(stale, c)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var errs *multierror.Error
	for _, c := range stale {
		canonical := NormalizeMaterialName(c.material)
		h, err := db.getHotspotByID(c.id)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("row %d: %w", c.id, err))
			continue
		}
		h.Material = canonical
		if err := db.UpsertHotspot(h); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("row %d: %w", c.id, err))
			continue
		}
		if _, err := db.Exec(`DELETE FROM hotspot_data WHERE id = ?`, c.id); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("row %d: failed to delete stale alias row: %w", c.id, err))
		}
	}
	return errs.ErrorOrNil()
}

func (db *DB) getHotspotByID(id int64) (Hotspot, error) {
	rows, err := db.Query(`
		SELECT system_name, body_name, material_name, hotspot_count, scan_date,
		       x, y, z, coord_source, ring_type, ls_distance, inner_radius, outer_radius,
		       mass, density_numeric, density_reserve, overlap_tag, res_tag, data_source
		FROM hotspot_data WHERE id = ?
	`, id)
	if err != nil {
		return Hotspot{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Hotspot{}, err
		}
		return Hotspot{}, fmt.Errorf("%w: row %d", ErrNotFound, id)
	}
	return scanHotspotRow(rows)
}

// knownSystemNames returns every distinct system_name value already on
// file, used by migrateRepairMissingSystemPrefix to recognize an embedded
// prefix without guessing at word boundaries.
func (db *DB) knownSystemNames() ([]string, error) {
	rows, err := db.Query(`
		SELECT system_name FROM hotspot_data
		UNION
		SELECT system_name FROM visited_systems
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// splitEmbeddedSystemPrefix reports whether body starts with one of the
// known system names other than ownSystem. A match means an older
// ingestion path wrote the unsplit "<system> <ring suffix>" string into
// body_name instead of splitting it against the correct system.
func splitEmbeddedSystemPrefix(body, ownSystem string, known []string) (system, rest string, ok bool) {
	var best string
	for _, candidate := range known {
		if strings.EqualFold(candidate, ownSystem) {
			continue
		}
		if len(candidate) <= len(best) {
			continue
		}
		if len(body) > len(candidate) && strings.EqualFold(body[:len(candidate)], candidate) &&
			body[len(candidate)] == ' ' {
			best = candidate
		}
	}
	if best == "" {
		return "", "", false
	}
	return best, strings.TrimSpace(body[len(best):]), true
}

// migrateRepairMissingSystemPrefix finds rows whose body_name embeds a
// system prefix that disagrees with the row's own system_name column (a bug
// from an older ingestion path that wrote the unsplit string), recomputes
// the true system/body split from the body string, and moves the row under
// the corrected key -- merging into an existing row there if one already
// exists, otherwise rewriting system_name/body_name in place.
func migrateRepairMissingSystemPrefix(db *DB) error {
	known, err := db.knownSystemNames()
	if err != nil {
		return err
	}

	rows, err := db.Query(`SELECT id, system_name, body_name FROM hotspot_data`)
	if err != nil {
		return err
	}
	type candidate struct {
		id                   int64
		system, body         string
		correctedSystem      string
		correctedBody        string
	}
	var toFix []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.system, &c.body); err != nil {
			rows.Close()
			return err
		}
		// A body already correctly prefixed with its own system name is not
		// an instance of this bug.
		if !strings.EqualFold(NormalizeBodyName(c.body, c.system), collapseWhitespace(c.body)) {
			continue
		}
		embeddedSystem, rest, ok := splitEmbeddedSystemPrefix(c.body, c.system, known)
		if !ok {
			continue
		}
		c.correctedSystem = embeddedSystem
		c.correctedBody = collapseWhitespace(rest)
		toFix = append(toFix, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var errs *multierror.Error
	for _, c := range toFix {
		h, err := db.getHotspotByID(c.id)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		h.System = c.correctedSystem
		h.Body = c.correctedBody
		if err := db.UpsertHotspot(h); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if _, err := db.Exec(`DELETE FROM hotspot_data WHERE id = ?`, c.id); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// starSuffixPattern matches a 1-3 uppercase-letter star designator at the
// end of a system name, e.g. the "BC" in "HIP 39383 BC".
var starSuffixPattern = regexp.MustCompile(`^(.+) ([A-Z]{1,3})$`)

// migrateCollapseMultiStarDesignation handles the companion-star variant of
// the same drift: some ingestions recorded the full "<base> <star>" string
// as system_name even though the galaxy index and visited-systems table key
// multi-star systems on the base name alone, with the star letter living on
// the body instead ("BC 3 A Ring"). When the base system is already known
// locally but the full name is not, the star letter moves onto body_name
// and coordinates are back-filled from visited_systems if the row lacks
// them.
func migrateCollapseMultiStarDesignation(db *DB) error {
	rows, err := db.Query(`SELECT id, system_name, body_name FROM hotspot_data`)
	if err != nil {
		return err
	}
	type candidate struct {
		id                    int64
		system, body          string
		baseSystem, starLetter string
	}
	var toFix []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.system, &c.body); err != nil {
			rows.Close()
			return err
		}
		m := starSuffixPattern.FindStringSubmatch(c.system)
		if m == nil {
			continue
		}
		baseSystem, starLetter := m[1], m[2]
		baseKnown, err := db.systemKnownLocally(baseSystem)
		if err != nil {
			rows.Close()
			return err
		}
		// The row itself is in hotspot_data, so only visited_systems can
		// show whether the full name is known in its own right.
		var fullKnown bool
		err = db.QueryRow(`SELECT EXISTS(SELECT 1 FROM visited_systems WHERE system_name = ? COLLATE NOCASE)`, c.system).Scan(&fullKnown)
		if err != nil {
			rows.Close()
			return err
		}
		if !baseKnown || fullKnown {
			continue
		}
		c.baseSystem, c.starLetter = baseSystem, starLetter
		toFix = append(toFix, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var errs *multierror.Error
	for _, c := range toFix {
		h, err := db.getHotspotByID(c.id)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		h.System = c.baseSystem
		h.Body = collapseWhitespace(c.starLetter + " " + c.body)
		if !h.Coords.Valid {
			if coords, ok, err := db.visitedSystemCoords(c.baseSystem); err == nil && ok {
				h.Coords = coords
				h.CoordSource = CoordVisitedSystems
			}
		}
		if err := db.UpsertHotspot(h); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if _, err := db.Exec(`DELETE FROM hotspot_data WHERE id = ?`, c.id); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// systemKnownLocally reports whether name appears in visited_systems or
// already has at least one hotspot row. Only these two locally-owned tables
// are checked; the galaxy index is not consulted, so a system known only
// there counts as unknown.
func (db *DB) systemKnownLocally(name string) (bool, error) {
	var known bool
	err := db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM visited_systems WHERE system_name = ? COLLATE NOCASE)
		    OR EXISTS(SELECT 1 FROM hotspot_data WHERE system_name = ? COLLATE NOCASE)
	`, name, name).Scan(&known)
	return known, err
}

func (db *DB) visitedSystemCoords(name string) (Coords, bool, error) {
	var x, y, z sql.NullFloat64
	err := db.QueryRow(`
		SELECT x, y, z FROM visited_systems WHERE system_name = ? COLLATE NOCASE
	`, name).Scan(&x, &y, &z)
	if errors.Is(err, sql.ErrNoRows) {
		return Coords{}, false, nil
	}
	if err != nil {
		return Coords{}, false, err
	}
	if !x.Valid || !y.Valid || !z.Valid {
		return Coords{}, false, nil
	}
	return Coords{X: x.Float64, Y: y.Float64, Z: z.Float64, Valid: true}, true, nil
}

//go:embed overlaydata/overlaps.csv
var overlapsCSV []byte

//go:embed overlaydata/res_sites.csv
var resSitesCSV []byte

// overlayRow is one parsed line of overlaps.csv/res_sites.csv, normalized
// onto the same natural key a journal-sourced hotspot row would use.
type overlayRow struct {
	System   string
	Body     string
	Material string
	Tag      string
}

// parseOverlayCSV parses a UTF-8 CSV shaped like §6's "System, Body,
// Material, Overlap" (or "RES") header into overlayRow values. Column order
// is read from the header rather than assumed, and body/material are run
// through the same normalization the live ingest path uses so an overlay row
// lands on the same natural key a journal-sourced row would.
func parseOverlayCSV(data []byte, tagHeader string) ([]overlayRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse overlay CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	idx := map[string]int{}
	for i, col := range records[0] {
		idx[strings.TrimSpace(col)] = i
	}
	for _, col := range []string{"System", "Body", "Material", tagHeader} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("overlay CSV missing required column %q", col)
		}
	}

	var rows []overlayRow
	for _, rec := range records[1:] {
		system := strings.TrimSpace(rec[idx["System"]])
		rawBody := strings.TrimSpace(rec[idx["Body"]])
		material := NormalizeMaterialName(rec[idx["Material"]])
		tag := strings.TrimSpace(rec[idx[tagHeader]])
		if system == "" || rawBody == "" || material == "" || tag == "" {
			continue
		}
		rows = append(rows, overlayRow{
			System:   system,
			Body:     NormalizeBodyName(rawBody, system),
			Material: material,
			Tag:      tag,
		})
	}
	return rows, nil
}

// mergeOverlayRows implements the shared overlay contract for both the
// overlap and RES CSVs (§4.3 migrations 4 and 5): an existing row's tag
// column is updated only while it is still null -- a tag the user has
// already set (by hand, or from an earlier overlay import) is never
// clobbered -- and a ring with no row yet gets a hotspot_count=0 placeholder
// row carrying coord_source = overlap_csv/res_csv, the same placeholder
// shape SetOverlapTag/SetResTag use for a manual tag on an unscanned ring.
func mergeOverlayRows(db *DB, rows []overlayRow, column string, coordSource CoordSource) error {
	var errs *multierror.Error
	for _, row := range rows {
		if err := mergeOverlayRow(db, row, column, coordSource); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s/%s/%s: %w", row.System, row.Body, row.Material, err))
		}
	}
	return errs.ErrorOrNil()
}

func mergeOverlayRow(db *DB, row overlayRow, column string, coordSource CoordSource) error {
	return db.withTx(func(tx *sql.Tx) error {
		var existingTag sql.NullString
		err := tx.QueryRow(fmt.Sprintf(`
			SELECT %s FROM hotspot_data
			WHERE system_name = ? AND body_name = ? AND material_name = ?
		`, column), row.System, row.Body, row.Material).Scan(&existingTag)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err := tx.Exec(fmt.Sprintf(`
				INSERT INTO hotspot_data
					(system_name, body_name, material_name, hotspot_count, %s,
					 coord_source, data_source, created_at, updated_at)
				VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)
			`, column), row.System, row.Body, row.Material, row.Tag,
				string(coordSource), string(coordSource), nowUTC(), nowUTC())
			return err
		case err != nil:
			return err
		case existingTag.Valid && existingTag.String != "":
			// A tag is already on file -- overlay rows never clobber it.
			return nil
		default:
			_, err := tx.Exec(fmt.Sprintf(`
				UPDATE hotspot_data SET %s = ?, updated_at = ?
				WHERE system_name = ? AND body_name = ? AND material_name = ?
			`, column), row.Tag, nowUTC(), row.System, row.Body, row.Material)
			return err
		}
	})
}

// migrateMergeOverlapOverlay applies the shipped overlaps.csv via
// mergeOverlayRows. The embedded CSV ships with only its header row in this
// build; the parse+merge algorithm still runs in full so a future release
// that adds real rows to overlaydata/overlaps.csv needs nothing more than
// that data change to take effect.
func migrateMergeOverlapOverlay(db *DB) error {
	rows, err := parseOverlayCSV(overlapsCSV, "Overlap")
	if err != nil {
		return fmt.Errorf("failed to parse overlaps.csv: %w", err)
	}
	return mergeOverlayRows(db, rows, "overlap_tag", CoordOverlapCSV)
}

// migrateMergeResOverlay is migrateMergeOverlapOverlay's RES-tag twin,
// applying the shipped res_sites.csv.
func migrateMergeResOverlay(db *DB) error {
	rows, err := parseOverlayCSV(resSitesCSV, "RES")
	if err != nil {
		return fmt.Errorf("failed to parse res_sites.csv: %w", err)
	}
	return mergeOverlayRows(db, rows, "res_tag", CoordResCSV)
}

// migrateMergeBundledHotspots merges the application's bundled seed dataset
// of known hotspots into the user's store, inserting only keys that are not
// already on file, so a fresh install starts with community-sourced coverage
// without ever overwriting anything the user has already scanned themselves.
func migrateMergeBundledHotspots(db *DB) error {
	seeds, err := loadBundledHotspots()
	if errors.Is(err, errNoBundledData) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load bundled hotspot seed data: %w", err)
	}
	var errs *multierror.Error
	for _, h := range seeds {
		var exists bool
		if err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM hotspot_data WHERE system_name = ? AND body_name = ? AND material_name = ?)`,
			h.System, h.Body, h.Material).Scan(&exists); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if exists {
			continue
		}
		if err := db.UpsertHotspot(h); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

var errNoBundledData = errors.New("hotspot: no bundled seed data present")

// loadBundledHotspots is a hook for a future embedded seed dataset. No data
// is bundled yet, so it always reports errNoBundledData.
func loadBundledHotspots() ([]Hotspot, error) {
	return nil, errNoBundledData
}
