package table

import "strconv"

// MaxRowBytes is the conservative estimate of the row-size cap the backing
// database enforces; the loader splits a wide table before reaching it
// rather than relying on the database to reject the DDL.
const MaxRowBytes = 8000

// Shard is one physical table of a (possibly) wide-table group: the key
// columns (repeated identically in every shard) plus this shard's portion
// of the value columns.
type Shard struct {
	Name      string
	KeyCols   []Column
	ValueCols []Column
}

// Split distributes valueCols across one or more shards so that each shard
// stays within maxColumns columns and under maxRowBytes of estimated row
// width, keeping keyCols present in every shard. Columns are assigned in
// declaration order, matching the loader's deterministic shard naming.
func Split(baseName string, keyCols, valueCols []Column, maxColumns, maxRowBytes int) []Shard {
	if maxColumns <= 0 {
		maxColumns = 1000
	}
	if maxRowBytes <= 0 {
		maxRowBytes = MaxRowBytes
	}

	keyWidth := 0
	for _, c := range keyCols {
		keyWidth += c.EstimatedWidth()
	}

	var shards []Shard
	current := Shard{KeyCols: keyCols}
	currentWidth := keyWidth

	flush := func() {
		if len(current.ValueCols) == 0 && len(shards) > 0 {
			return
		}
		current.Name = shardName(baseName, len(shards))
		shards = append(shards, current)
		current = Shard{KeyCols: keyCols}
		currentWidth = keyWidth
	}

	for _, c := range valueCols {
		width := c.EstimatedWidth()
		wouldExceedColumns := len(current.ValueCols)+len(keyCols) >= maxColumns
		wouldExceedWidth := currentWidth+width > maxRowBytes && len(current.ValueCols) > 0
		if wouldExceedColumns || wouldExceedWidth {
			flush()
		}
		current.ValueCols = append(current.ValueCols, c)
		currentWidth += width
	}
	flush()

	if len(shards) == 0 {
		shards = append(shards, Shard{Name: shardName(baseName, 0), KeyCols: keyCols})
	}
	return shards
}

func shardName(base string, index int) string {
	if index == 0 {
		return base
	}
	return PhysicalName(base + "_w" + strconv.Itoa(index))
}
