package hotspot

import "testing"

func TestParseOverlayCSVNormalizesBodyAndMaterial(t *testing.T) {
	csv := "System, Body, Material, Overlap\nPaesia, Paesia 2 A Ring, platinum, 2x\n"
	rows, err := parseOverlayCSV([]byte(csv), "Overlap")
	if err != nil {
		t.Fatalf("parseOverlayCSV failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	row := rows[0]
	if row.Body != "2 A Ring" {
		t.Errorf("Body = %q, want the system prefix stripped", row.Body)
	}
	if row.Material != "Platinum" {
		t.Errorf("Material = %q, want canonicalized", row.Material)
	}
	if row.Tag != "2x" {
		t.Errorf("Tag = %q, want 2x", row.Tag)
	}
}

func TestParseOverlayCSVSkipsBlankRows(t *testing.T) {
	csv := "System, Body, Material, RES\nPaesia, Paesia 2 A Ring, Platinum, \n"
	rows, err := parseOverlayCSV([]byte(csv), "RES")
	if err != nil {
		t.Fatalf("parseOverlayCSV failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0 for a row with an empty tag", len(rows))
	}
}

func TestParseOverlayCSVRequiresExpectedHeader(t *testing.T) {
	csv := "System, Body, Material\nPaesia, Paesia 2 A Ring, Platinum\n"
	if _, err := parseOverlayCSV([]byte(csv), "Overlap"); err == nil {
		t.Error("expected an error for a CSV missing the Overlap column")
	}
}

func TestMergeOverlayRowsInsertsPlaceholderWhenRingUnknown(t *testing.T) {
	db := newTestDB(t)
	rows := []overlayRow{{System: "Paesia", Body: "2 A Ring", Material: "Platinum", Tag: "2x"}}
	if err := mergeOverlayRows(db, rows, "overlap_tag", CoordOverlapCSV); err != nil {
		t.Fatalf("mergeOverlayRows failed: %v", err)
	}
	got, err := db.GetBodyHotspots("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if len(got) != 1 || got[0].Count != 0 {
		t.Fatalf("got %+v, want a single hotspot_count=0 placeholder row", got)
	}
	if got[0].Ring.Overlap == nil || *got[0].Ring.Overlap != Overlap2x {
		t.Errorf("Overlap = %v, want 2x", got[0].Ring.Overlap)
	}
	if got[0].CoordSource != CoordOverlapCSV {
		t.Errorf("CoordSource = %q, want overlap_csv", got[0].CoordSource)
	}
}

func TestMergeOverlayRowsNeverClobbersExistingTag(t *testing.T) {
	db := newTestDB(t)
	userTag := Overlap3x
	if err := db.SetOverlapTag("Paesia", "2 A Ring", "Platinum", &userTag); err != nil {
		t.Fatalf("seed SetOverlapTag failed: %v", err)
	}
	rows := []overlayRow{{System: "Paesia", Body: "2 A Ring", Material: "Platinum", Tag: "2x"}}
	if err := mergeOverlayRows(db, rows, "overlap_tag", CoordOverlapCSV); err != nil {
		t.Fatalf("mergeOverlayRows failed: %v", err)
	}
	got, err := db.GetBodyHotspots("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if got[0].Ring.Overlap == nil || *got[0].Ring.Overlap != Overlap3x {
		t.Errorf("Overlap = %v, want the pre-existing 3x tag preserved", got[0].Ring.Overlap)
	}
}

func TestMergeOverlayRowsFillsNullTagOnExistingRow(t *testing.T) {
	db := newTestDB(t)
	if err := db.UpsertHotspot(Hotspot{System: "Paesia", Body: "2 A Ring", Material: "Platinum", Count: 5}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}
	rows := []overlayRow{{System: "Paesia", Body: "2 A Ring", Material: "Platinum", Tag: "High"}}
	if err := mergeOverlayRows(db, rows, "res_tag", CoordResCSV); err != nil {
		t.Fatalf("mergeOverlayRows failed: %v", err)
	}
	got, err := db.GetBodyHotspots("Paesia", "2 A Ring")
	if err != nil {
		t.Fatalf("GetBodyHotspots failed: %v", err)
	}
	if got[0].Count != 5 {
		t.Errorf("Count = %d, want 5 preserved by a tag-only merge", got[0].Count)
	}
	if got[0].Ring.Res == nil || *got[0].Ring.Res != ResHigh {
		t.Errorf("Res = %v, want High", got[0].Ring.Res)
	}
}

func TestMergeOverlapOverlayMigrationRunsAgainstEmbeddedCSV(t *testing.T) {
	db := newTestDB(t)
	if err := migrateMergeOverlapOverlay(db); err != nil {
		t.Fatalf("migrateMergeOverlapOverlay failed against the shipped (header-only) CSV: %v", err)
	}
	if err := migrateMergeResOverlay(db); err != nil {
		t.Fatalf("migrateMergeResOverlay failed against the shipped (header-only) CSV: %v", err)
	}
}
