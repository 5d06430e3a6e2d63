package catalog_test

import (
	"errors"
	"testing"

	"github.com/a-essam23/layoutsync/pkg/catalog"
)

func TestLookup(t *testing.T) {
	tpl, ok := catalog.Lookup(catalog.DanceFloor)
	if !ok {
		t.Fatal("expected dance-floor template")
	}
	if tpl.Width != 120 || tpl.Height != 120 || tpl.Color != "#8b5cf6" {
		t.Errorf("unexpected dance-floor template: %+v", tpl)
	}
	if _, ok := catalog.Lookup("piano"); ok {
		t.Error("lookup of unknown type should fail")
	}
}

func TestParse(t *testing.T) {
	if got, err := catalog.Parse("tent"); err != nil || got != catalog.Tent {
		t.Errorf("Parse(tent) = %q, %v", got, err)
	}
	if _, err := catalog.Parse("piano"); !errors.Is(err, catalog.ErrUnknownType) {
		t.Errorf("Parse(piano) error = %v, want ErrUnknownType", err)
	}
}

func TestAllIsACopy(t *testing.T) {
	all := catalog.All()
	if len(all) != 6 {
		t.Fatalf("expected 6 templates, got %d", len(all))
	}
	all[0].Width = 1
	if tpl := catalog.MustLookup(all[0].Type); tpl.Width == 1 {
		t.Error("mutating All() result leaked into the registry")
	}
}
