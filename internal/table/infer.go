package table

import (
	"crypto/sha1"
	"encoding/csv"
	"encoding/hex"
	"io"
	"math"
	"strconv"
	"strings"
)

// ColumnType is the inferred DDL type for one CSV column.
type ColumnType string

const (
	TypeBoolean ColumnType = "BOOLEAN"
	TypeInteger ColumnType = "INTEGER"
	TypeBigInt  ColumnType = "BIGINT"
	TypeDouble  ColumnType = "DOUBLE"
	TypeVarchar ColumnType = "VARCHAR"
	TypeText    ColumnType = "TEXT"
	TypeJSON    ColumnType = "JSON"
)

// TextThreshold is the widest string length still typed VARCHAR; one
// character over promotes the column to TEXT.
const TextThreshold = 2000

// MaxTrackedCardinality bounds how many distinct values are tracked per
// column for index-planning; beyond this the column is assumed
// high-cardinality and no longer worth tracking precisely.
const MaxTrackedCardinality = 200

// Column is one inferred CSV column definition.
type Column struct {
	Name        string
	Type        ColumnType
	Width       int  // widest observed string length; meaningful for VARCHAR/TEXT
	Cardinality int  // distinct values observed, capped at MaxTrackedCardinality
	IsBoolean   bool
}

// EstimatedWidth returns the approximate on-disk byte width of one row
// value in this column, used for the ~8000 byte row-size cap.
func (c Column) EstimatedWidth() int {
	switch c.Type {
	case TypeBoolean:
		return 1
	case TypeInteger:
		return 4
	case TypeBigInt, TypeDouble:
		return 8
	case TypeJSON, TypeText:
		return c.Width
	default: // VARCHAR
		return c.Width
	}
}

// columnAccumulator tracks inference state for one column across all rows
// of all contributing CSV resources.
type columnAccumulator struct {
	name           string
	maxWidth       int
	allInt         bool
	allBigOrSmall  bool // true while every integer observed fits int32
	anyFractional  bool
	anyNonNumeric  bool
	looksJSON      bool
	looksBooleanOK bool
	sawAny         bool
	distinct       map[string]struct{}
}

func newAccumulator(name string) *columnAccumulator {
	return &columnAccumulator{
		name:           name,
		allInt:         true,
		allBigOrSmall:  true,
		looksBooleanOK: true,
		distinct:       make(map[string]struct{}),
	}
}

func (a *columnAccumulator) observe(value string) {
	a.sawAny = true
	if len(value) > a.maxWidth {
		a.maxWidth = len(value)
	}
	if len(a.distinct) < MaxTrackedCardinality {
		a.distinct[value] = struct{}{}
	}

	if value == "" {
		return
	}

	upper := strings.ToUpper(value)
	if upper != "TRUE" && upper != "FALSE" {
		a.looksBooleanOK = false
	}

	if _, err := strconv.ParseInt(value, 10, 32); err != nil {
		if _, err64 := strconv.ParseInt(value, 10, 64); err64 != nil {
			a.allInt = false
		} else {
			a.allBigOrSmall = false
		}
	}

	if _, err := strconv.ParseFloat(value, 64); err == nil {
		if strings.ContainsAny(value, ".eE") {
			a.anyFractional = true
		}
	} else {
		a.anyNonNumeric = true
	}

	if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
		a.looksJSON = true
	}
}

func (a *columnAccumulator) resolve() Column {
	col := Column{Name: a.name, Width: a.maxWidth, Cardinality: len(a.distinct)}

	switch {
	case strings.HasPrefix(a.name, "is--") || (a.looksBooleanOK && a.sawAny):
		col.Type = TypeBoolean
		col.IsBoolean = true
	case a.looksJSON:
		if a.maxWidth > TextThreshold {
			col.Type = TypeJSON
		} else {
			col.Type = TypeVarchar
		}
	case a.allInt && !a.anyNonNumeric && a.sawAny:
		if a.allBigOrSmall {
			col.Type = TypeInteger
		} else {
			col.Type = TypeBigInt
		}
	case !a.anyNonNumeric && a.anyFractional && a.sawAny:
		col.Type = TypeDouble
	case a.maxWidth > TextThreshold:
		col.Type = TypeText
	default:
		col.Type = TypeVarchar
	}
	return col
}

// Inference is the result of a schema-infer pass over one or more CSV
// resources sharing the same logical table.
type Inference struct {
	Columns []Column
	KeyCols []string
}

// Infer streams r, a header-first CSV, accumulating per-column type and
// cardinality statistics. keyCols marks which header columns form the
// table's primary key (order preserved from the caller, not from the CSV).
func Infer(r io.Reader, keyCols []string) (*Inference, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return &Inference{KeyCols: keyCols}, nil
		}
		return nil, err
	}

	accumulators := make([]*columnAccumulator, len(header))
	for i, h := range header {
		accumulators[i] = newAccumulator(h)
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for i, v := range record {
			if i >= len(accumulators) {
				continue
			}
			accumulators[i].observe(v)
		}
	}

	cols := make([]Column, len(accumulators))
	for i, acc := range accumulators {
		cols[i] = acc.resolve()
	}
	return &Inference{Columns: cols, KeyCols: keyCols}, nil
}

// MergeInferences combines multiple single-file inferences that contribute
// to the same logical table (e.g. several datapoint CSVs sharing a key),
// widening types and accumulating cardinality across all sources (the
// per-source counts are summed and capped at MaxTrackedCardinality).
func MergeInferences(infers []*Inference) *Inference {
	merged := make(map[string]*columnAccumulator)
	cardinality := make(map[string]int)
	var order []string
	for _, inf := range infers {
		for _, c := range inf.Columns {
			acc, ok := merged[c.Name]
			if !ok {
				acc = newAccumulator(c.Name)
				merged[c.Name] = acc
				order = append(order, c.Name)
			}
			widenInto(acc, c)
			cardinality[c.Name] += c.Cardinality
		}
	}
	cols := make([]Column, 0, len(order))
	for _, name := range order {
		col := merged[name].resolve()
		col.Cardinality = cardinality[name]
		if col.Cardinality > MaxTrackedCardinality {
			col.Cardinality = MaxTrackedCardinality
		}
		cols = append(cols, col)
	}
	var keyCols []string
	if len(infers) > 0 {
		keyCols = infers[0].KeyCols
	}
	return &Inference{Columns: cols, KeyCols: keyCols}
}

// widenInto folds an already-resolved Column's characteristics back into an
// accumulator so that merging stays monotonic (a column only ever widens).
func widenInto(acc *columnAccumulator, c Column) {
	acc.sawAny = true
	if c.Width > acc.maxWidth {
		acc.maxWidth = c.Width
	}
	if c.Type != TypeBoolean {
		acc.looksBooleanOK = false
	}
	switch c.Type {
	case TypeBigInt:
		acc.allBigOrSmall = false
	case TypeDouble:
		acc.anyFractional = true
		acc.allInt = false
	case TypeText, TypeVarchar:
		if c.Type == TypeText {
			acc.maxWidth = int(math.Max(float64(acc.maxWidth), float64(TextThreshold+1)))
		}
		acc.anyNonNumeric = true
	case TypeJSON:
		acc.looksJSON = true
	case TypeBoolean:
		// leave looksBooleanOK as-is; booleans merge trivially
	}
}

// PhysicalName returns a DB-safe table name: the logical name unchanged if
// it fits MaxTableNameLength, otherwise a fixed-width hash suffix keeps it
// short and still deterministic across re-runs of the same ingestion.
func PhysicalName(logical string) string {
	if len(logical) <= MaxTableNameLength {
		return logical
	}
	sum := sha1.Sum([]byte(logical))
	suffix := hex.EncodeToString(sum[:])[:12]
	keep := MaxTableNameLength - len(suffix) - 1
	return logical[:keep] + "_" + suffix
}
