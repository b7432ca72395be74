package table

import "testing"

func col(name string, t ColumnType, width int) Column {
	return Column{Name: name, Type: t, Width: width}
}

func TestSplit_SingleShardWhenWithinBudget(t *testing.T) {
	key := []Column{col("geo", TypeVarchar, 8)}
	values := []Column{
		col("population", TypeInteger, 0),
		col("gdp", TypeDouble, 0),
	}
	shards := Split("ddf--datapoints--pop--gdp--by--geo", key, values, 100, 8000)
	if len(shards) != 1 {
		t.Fatalf("expected 1 shard, got %d", len(shards))
	}
	if len(shards[0].ValueCols) != 2 {
		t.Errorf("expected both value columns in the single shard")
	}
	if shards[0].Name != "ddf--datapoints--pop--gdp--by--geo" {
		t.Errorf("expected first shard to keep the base name, got %s", shards[0].Name)
	}
}

func TestSplit_ColumnBudgetForcesMultipleShards(t *testing.T) {
	key := []Column{col("geo", TypeVarchar, 8)}
	var values []Column
	for i := 0; i < 5; i++ {
		values = append(values, col("v"+string(rune('a'+i)), TypeInteger, 0))
	}
	// maxColumns=3 means each shard holds room for 1 key + 2 values.
	shards := Split("wide", key, values, 3, 0)
	if len(shards) < 3 {
		t.Fatalf("expected at least 3 shards for 5 values at maxColumns=3, got %d", len(shards))
	}
	for _, s := range shards {
		if len(s.KeyCols)+len(s.ValueCols) > 3 {
			t.Errorf("shard %s exceeds column budget: %d", s.Name, len(s.KeyCols)+len(s.ValueCols))
		}
		if len(s.KeyCols) != 1 || s.KeyCols[0].Name != "geo" {
			t.Errorf("shard %s missing key columns", s.Name)
		}
	}
}

func TestSplit_RowByteBudgetForcesSplit(t *testing.T) {
	key := []Column{col("geo", TypeVarchar, 8)}
	values := []Column{
		col("a", TypeVarchar, 5000),
		col("b", TypeVarchar, 5000),
	}
	shards := Split("wide", key, values, 1000, 8000)
	if len(shards) != 2 {
		t.Fatalf("expected row-width budget to force 2 shards, got %d", len(shards))
	}
}

func TestSplit_EmptyValuesStillProducesOneShard(t *testing.T) {
	key := []Column{col("geo", TypeVarchar, 8)}
	shards := Split("base", key, nil, 100, 8000)
	if len(shards) != 1 {
		t.Fatalf("expected 1 shard even with no value columns, got %d", len(shards))
	}
	if shards[0].Name != "base" {
		t.Errorf("expected base name preserved, got %s", shards[0].Name)
	}
}

func TestSplit_ShardNamesAreDeterministic(t *testing.T) {
	key := []Column{col("geo", TypeVarchar, 8)}
	var values []Column
	for i := 0; i < 4; i++ {
		values = append(values, col("v"+string(rune('a'+i)), TypeInteger, 0))
	}
	shards := Split("base", key, values, 2, 0)
	for i, s := range shards {
		if i == 0 && s.Name != "base" {
			t.Errorf("expected first shard named base, got %s", s.Name)
		}
		if i > 0 && s.Name == "base" {
			t.Errorf("expected shard %d to have a distinct name", i)
		}
	}
}
