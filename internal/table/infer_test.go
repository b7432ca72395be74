package table

import (
	"strings"
	"testing"
)

func TestInfer_TypesAndWidths(t *testing.T) {
	csv := "geo,name,population,pop_growth,is--country\n" +
		"usa,United States,331000000,0.4,TRUE\n" +
		"can,Canada,38000000,1.1,TRUE\n"

	inf, err := Infer(strings.NewReader(csv), []string{"geo"})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(inf.Columns) != 5 {
		t.Fatalf("expected 5 columns, got %d", len(inf.Columns))
	}

	byName := make(map[string]Column)
	for _, c := range inf.Columns {
		byName[c.Name] = c
	}

	if got := byName["population"].Type; got != TypeInteger {
		t.Errorf("population: expected INTEGER, got %s", got)
	}
	if got := byName["pop_growth"].Type; got != TypeDouble {
		t.Errorf("pop_growth: expected DOUBLE, got %s", got)
	}
	if got := byName["name"].Type; got != TypeVarchar {
		t.Errorf("name: expected VARCHAR, got %s", got)
	}
	if !byName["is--country"].IsBoolean {
		t.Errorf("is--country: expected boolean column")
	}
}

func TestInfer_BigIntPromotion(t *testing.T) {
	csv := "geo,big\nusa,9999999999999\ncan,1\n"
	inf, err := Infer(strings.NewReader(csv), []string{"geo"})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if inf.Columns[1].Type != TypeBigInt {
		t.Errorf("expected BIGINT for large integer column, got %s", inf.Columns[1].Type)
	}
}

func TestInfer_TextThresholdPromotesFromVarchar(t *testing.T) {
	long := strings.Repeat("x", TextThreshold+1)
	csv := "geo,notes\nusa," + long + "\n"
	inf, err := Infer(strings.NewReader(csv), []string{"geo"})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if inf.Columns[1].Type != TypeText {
		t.Errorf("expected TEXT for over-threshold column, got %s", inf.Columns[1].Type)
	}
}

func TestInfer_EmptyBody(t *testing.T) {
	inf, err := Infer(strings.NewReader(""), []string{"geo"})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(inf.Columns) != 0 {
		t.Errorf("expected no columns for empty input, got %d", len(inf.Columns))
	}
	if inf.KeyCols[0] != "geo" {
		t.Errorf("expected key cols to be preserved even with no data")
	}
}

func TestMergeInferences_WidensAcrossSources(t *testing.T) {
	a, _ := Infer(strings.NewReader("geo,val\nusa,1\n"), []string{"geo"})
	b, _ := Infer(strings.NewReader("geo,val\ncan,1.5\n"), []string{"geo"})

	merged := MergeInferences([]*Inference{a, b})
	if len(merged.Columns) != 1 {
		t.Fatalf("expected 1 merged column, got %d", len(merged.Columns))
	}
	if merged.Columns[0].Type != TypeDouble {
		t.Errorf("expected merge to widen INTEGER+DOUBLE to DOUBLE, got %s", merged.Columns[0].Type)
	}
}

func TestPhysicalName_ShortNameUnchanged(t *testing.T) {
	name := "ddf--datapoints--population--by--geo--time"
	if got := PhysicalName(name); got != name {
		t.Errorf("expected short name unchanged, got %s", got)
	}
}

func TestPhysicalName_LongNameHashed(t *testing.T) {
	long := strings.Repeat("a", MaxTableNameLength+40)
	got := PhysicalName(long)
	if len(got) > MaxTableNameLength {
		t.Fatalf("expected hashed name within %d chars, got %d", MaxTableNameLength, len(got))
	}
	if got == long {
		t.Errorf("expected long name to be rewritten")
	}
	if PhysicalName(long) != got {
		t.Errorf("expected deterministic hashing across calls")
	}
}
