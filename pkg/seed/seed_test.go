package seed_test

import (
	"testing"

	"github.com/a-essam23/layoutsync/pkg/catalog"
	"github.com/a-essam23/layoutsync/pkg/crdt"
	"github.com/a-essam23/layoutsync/pkg/layout"
	"github.com/a-essam23/layoutsync/pkg/seed"
)

func TestParseRecommendation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "tables only", input: `{"tables": 4}`, want: 4},
		{name: "other fields ignored", input: `{"venue":"barn","guests":120,"tables":12,"notes":["x"]}`, want: 12},
		{name: "missing tables", input: `{"guests": 80}`, want: 0},
		{name: "non numeric tables", input: `{"tables": "lots"}`, want: 0},
		{name: "invalid json", input: `{"tables": `, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := seed.ParseRecommendation([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRecommendation error = %v, wantErr %v", err, tt.wantErr)
			}
			if rec.Tables != tt.want {
				t.Errorf("Tables = %d, want %d", rec.Tables, tt.want)
			}
		})
	}
}

func TestPlanDefault(t *testing.T) {
	items := seed.Plan(seed.Recommendation{})
	if len(items) != 9 {
		t.Fatalf("expected 9 items (tent, 6 tables, dance floor, bar), got %d", len(items))
	}

	tent := items[0]
	if tent.ID != "tent-1" || tent.Label != "Main Tent" || tent.X != 60 || tent.Y != 60 || tent.Width != 400 || tent.Height != 300 {
		t.Errorf("unexpected tent: %+v", tent)
	}

	// 6 tables sit in ceil(sqrt(6)) = 3 columns
	want := [][2]float64{{120, 120}, {200, 120}, {280, 120}, {120, 200}, {200, 200}, {280, 200}}
	for i, pos := range want {
		tbl := items[1+i]
		if tbl.Type != catalog.Table {
			t.Fatalf("item %d: expected table, got %s", 1+i, tbl.Type)
		}
		if tbl.X != pos[0] || tbl.Y != pos[1] {
			t.Errorf("table %d at (%v,%v), want (%v,%v)", i+1, tbl.X, tbl.Y, pos[0], pos[1])
		}
	}

	if floor := items[7]; floor.Type != catalog.DanceFloor || floor.X != 300 || floor.Y != 120 {
		t.Errorf("unexpected dance floor: %+v", floor)
	}
	if bar := items[8]; bar.Type != catalog.Bar || bar.X != 100 || bar.Y != 300 {
		t.Errorf("unexpected bar: %+v", bar)
	}
}

func TestPlanUsesRequestedTables(t *testing.T) {
	items := seed.Plan(seed.Recommendation{Tables: 10})
	if len(items) != 13 {
		t.Fatalf("expected 13 items, got %d", len(items))
	}
	// 10 tables use 4 columns; table 5 starts the second row
	if tbl := items[5]; tbl.ID != "table-5" || tbl.X != 120 || tbl.Y != 200 {
		t.Errorf("unexpected table-5: %+v", tbl)
	}
	if n := len(seed.Plan(seed.Recommendation{Tables: -3})); n != 9 {
		t.Errorf("non-positive count should fall back to the default, got %d items", n)
	}
}

func TestApplySeedsAtomically(t *testing.T) {
	doc := layout.NewDocument("alice")
	notifications := 0
	doc.Observe(func() { notifications++ })
	remote := layout.NewDocument("bob")
	remoteNotifications := 0
	remote.Observe(func() { remoteNotifications++ })
	updates := 0
	doc.Map().OnUpdate(func(u crdt.Update, _ any) {
		updates++
		remote.Map().Apply(u, "relay")
	})

	seeded, err := seed.Apply(doc, seed.Recommendation{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !seeded {
		t.Fatal("expected an empty document to be seeded")
	}
	if doc.Len() != 9 {
		t.Errorf("expected 9 items, got %d", doc.Len())
	}
	if notifications != 1 {
		t.Errorf("expected one observer notification, got %d", notifications)
	}
	if updates != 1 {
		t.Errorf("expected one outbound update, got %d", updates)
	}
	if remoteNotifications != 1 || remote.Len() != 9 {
		t.Errorf("expected the observing replica to see all 9 items in one notification, got %d notifications and %d items", remoteNotifications, remote.Len())
	}
}

func TestApplySkipsNonEmptyDocument(t *testing.T) {
	doc := layout.NewDocument("alice")
	existing, _ := layout.FromTemplate("stage-1", catalog.Stage, 40, 40)
	if err := doc.Create(existing); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	seeded, err := seed.Apply(doc, seed.Recommendation{Tables: 3})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if seeded || doc.Len() != 1 {
		t.Errorf("expected no seeding, got seeded=%v len=%d", seeded, doc.Len())
	}
}

func TestRearrangeOverwritesPlanItems(t *testing.T) {
	doc := layout.NewDocument("alice")
	seed.Apply(doc, seed.Recommendation{Tables: 2})

	moved, _ := doc.Get("table-1")
	moved.X, moved.Y = 500, 500
	doc.Set(moved)
	extra, _ := layout.FromTemplate("chair-x", catalog.Chair, 0, 0)
	doc.Create(extra)

	if err := seed.Rearrange(doc, seed.Recommendation{Tables: 2}); err != nil {
		t.Fatalf("Rearrange failed: %v", err)
	}
	got, _ := doc.Get("table-1")
	if got.X != 120 || got.Y != 120 {
		t.Errorf("expected table-1 back at (120,120), got (%v,%v)", got.X, got.Y)
	}
	if !doc.Has("chair-x") {
		t.Error("Rearrange must keep items outside the plan")
	}
}
