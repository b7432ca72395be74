package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/gapminder/ddf-server/internal/apperr"
	"github.com/gapminder/ddf-server/internal/schema"
	"github.com/gapminder/ddf-server/internal/table"
)

// conceptRow is one parsed row of ddf--concepts.csv relevant to building the
// entity-set -> domain map: a concept whose concept_type is "entity_set"
// names, via its domain column, the entity domain it is a subset of.
type conceptRow struct {
	concept     string
	conceptType string
	domain      string
}

func (l *Loader) loadConceptsTable(ctx context.Context, base resource, translations map[string]resource, maxColumns int) (*schema.Table, int64, error) {
	inf, err := inferFile(base.path, []string{"concept"})
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.SchemaValidation, "infer concepts schema", err)
	}

	keyCols, valueCols := splitKeyValue(inf.Columns, []string{"concept"})
	langCols := map[string][]string{}
	for lang, r := range translations {
		tinf, err := inferFile(r.path, []string{"concept"})
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.SchemaValidation, "infer concepts translation schema", err)
		}
		_, tvalues := splitKeyValue(tinf.Columns, []string{"concept"})
		langCols[lang] = columnNames(tvalues)
	}

	physical := table.PhysicalName("concepts")
	translationDefs := translationColumnDefs(langCols)
	ddl := table.BuildCreateTable(physical, keyCols, valueCols, nil, translationDefs)
	if err := l.Tables.CreateTable(ctx, ddl); err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "create concepts table", err)
	}

	n, err := l.Tables.BulkLoad(ctx, bulkOptsFor(physical, keyCols, valueCols, base.path))
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "load concepts", err)
	}
	for lang, r := range translations {
		if _, err := l.Tables.UpsertTranslationRows(ctx, table.TranslationLoadOptions{
			Table: physical, KeyCols: columnNames(keyCols), ValueCols: langCols[lang], Language: lang, SourcePath: r.path,
		}); err != nil {
			return nil, 0, apperr.Wrap(apperr.Internal, "load concepts translation ("+lang+")", err)
		}
	}

	t := &schema.Table{
		Key:            []string{"concept"},
		PhysicalTables: []string{physical},
		ValueColumns:   columnNames(valueCols),
		Sources:        []string{base.path},
		Translations:   langCols,
	}
	return t, n, nil
}

// readConceptRows re-reads the concepts CSV looking for concept_type/domain
// columns, used only to populate the entity-set -> domain map; it is kept
// separate from schema inference because that pass only cares about column
// types, not these two specific columns' values.
func readConceptRows(path string) ([]conceptRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[h] = i
	}
	conceptIdx, ok := idx["concept"]
	if !ok {
		return nil, fmt.Errorf("concepts resource missing required concept column")
	}
	typeIdx, hasType := idx["concept_type"]
	domainIdx, hasDomain := idx["domain"]

	var rows []conceptRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := conceptRow{concept: rec[conceptIdx]}
		if hasType {
			row.conceptType = rec[typeIdx]
		}
		if hasDomain {
			row.domain = rec[domainIdx]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// populateEntitySetDomain reads path (the base-language concepts resource)
// and records every entity_set -> domain mapping into sch.
func populateEntitySetDomain(sch *schema.Schema, path string) error {
	rows, err := readConceptRows(path)
	if err != nil {
		return apperr.Wrap(apperr.SchemaValidation, "read concepts rows", err)
	}
	for _, row := range rows {
		if row.conceptType == "entity_set" && row.domain != "" {
			sch.EntitySetDomain[row.concept] = row.domain
		}
	}
	return nil
}

func (l *Loader) loadEntityTable(ctx context.Context, domain string, grp *tableGroup, maxColumns int) (*schema.Table, int64, error) {
	infers := make([]*table.Inference, 0, len(grp.base))
	var sources []string
	for _, r := range grp.base {
		inf, err := inferFile(r.path, []string{domain})
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.SchemaValidation, "infer entities schema for "+domain, err)
		}
		infers = append(infers, inf)
		sources = append(sources, r.path)
	}
	merged := table.MergeInferences(infers)
	keyCols, valueCols := splitKeyValue(merged.Columns, []string{domain})

	langCols := map[string][]string{}
	for lang, files := range grp.translations {
		var linfers []*table.Inference
		for _, r := range files {
			tinf, err := inferFile(r.path, []string{domain})
			if err != nil {
				return nil, 0, apperr.Wrap(apperr.SchemaValidation, "infer entities translation schema", err)
			}
			linfers = append(linfers, tinf)
		}
		_, tvalues := splitKeyValue(table.MergeInferences(linfers).Columns, []string{domain})
		langCols[lang] = columnNames(tvalues)
	}

	physical := physicalBaseName([]string{"entities"}, []string{domain})
	translationDefs := translationColumnDefs(langCols)
	ddl := table.BuildCreateTable(physical, keyCols, valueCols, grp.entitySets, translationDefs)
	if err := l.Tables.CreateTable(ctx, ddl); err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "create entities table for "+domain, err)
	}

	var total int64
	for _, r := range grp.base {
		n, err := l.Tables.BulkLoad(ctx, bulkOptsFor(physical, keyCols, valueCols, r.path))
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.Internal, "load entities for "+domain, err)
		}
		total += n
	}
	for lang, files := range grp.translations {
		for _, r := range files {
			if _, err := l.Tables.UpsertTranslationRows(ctx, table.TranslationLoadOptions{
				Table: physical, KeyCols: columnNames(keyCols), ValueCols: langCols[lang], Language: lang, SourcePath: r.path,
			}); err != nil {
				return nil, 0, apperr.Wrap(apperr.Internal, "load entities translation ("+lang+")", err)
			}
		}
	}

	t := &schema.Table{
		Key:            []string{domain},
		PhysicalTables: []string{physical},
		ValueColumns:   columnNames(valueCols),
		Sources:        sources,
		Domain:         domain,
		EntitySets:     grp.entitySets,
		Translations:   langCols,
	}
	return t, total, nil
}

func (l *Loader) loadDatapointTable(ctx context.Context, key []string, grp *tableGroup, maxColumns int) (*schema.Table, int64, error) {
	infers := make([]*table.Inference, 0, len(grp.base))
	var sources []string
	for _, r := range grp.base {
		inf, err := inferFile(r.path, key)
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.SchemaValidation, "infer datapoints schema", err)
		}
		infers = append(infers, inf)
		sources = append(sources, r.path)
	}
	merged := table.MergeInferences(infers)
	keyCols, valueCols := splitKeyValue(merged.Columns, key)

	langCols := map[string][]string{}
	for lang, files := range grp.translations {
		var linfers []*table.Inference
		for _, r := range files {
			tinf, err := inferFile(r.path, key)
			if err != nil {
				return nil, 0, apperr.Wrap(apperr.SchemaValidation, "infer datapoints translation schema", err)
			}
			linfers = append(linfers, tinf)
		}
		_, tvalues := splitKeyValue(table.MergeInferences(linfers).Columns, key)
		langCols[lang] = columnNames(tvalues)
	}

	baseName := physicalBaseName([]string{"datapoints"}, key)
	shards := table.Split(baseName, keyCols, valueCols, maxColumns, 0)

	var total int64
	for _, shard := range shards {
		translationDefs := translationColumnDefsFor(langCols, shard.ValueCols)
		ddl := table.BuildCreateTable(shard.Name, shard.KeyCols, shard.ValueCols, nil, translationDefs)
		if err := l.Tables.CreateTable(ctx, ddl); err != nil {
			return nil, 0, apperr.Wrap(apperr.Internal, "create datapoints shard "+shard.Name, err)
		}
		if err := l.Tables.DropPrimary(ctx, shard.Name); err != nil {
			return nil, 0, apperr.Wrap(apperr.Internal, "drop primary key before load", err)
		}
		for _, r := range grp.base {
			n, err := l.Tables.BulkLoad(ctx, bulkOptsFor(shard.Name, shard.KeyCols, shard.ValueCols, r.path))
			if err != nil {
				return nil, 0, apperr.Wrap(apperr.Internal, "load datapoints shard "+shard.Name, err)
			}
			total += n
		}
		secondary := secondaryIndexCandidates(shard.KeyCols)
		if err := l.Tables.RecreateIndexes(ctx, shard.Name, columnNames(shard.KeyCols), secondary); err != nil {
			return nil, 0, apperr.Wrap(apperr.Internal, "recreate indexes on "+shard.Name, err)
		}
		for lang, files := range grp.translations {
			shardLangCols := intersectColumns(langCols[lang], columnNames(shard.ValueCols))
			if len(shardLangCols) == 0 {
				continue
			}
			for _, r := range files {
				if _, err := l.Tables.UpsertTranslationRows(ctx, table.TranslationLoadOptions{
					Table: shard.Name, KeyCols: columnNames(shard.KeyCols), ValueCols: shardLangCols, Language: lang, SourcePath: r.path,
				}); err != nil {
					return nil, 0, apperr.Wrap(apperr.Internal, "load datapoints translation ("+lang+")", err)
				}
			}
		}
	}

	physicalNames := make([]string, len(shards))
	for i, s := range shards {
		physicalNames[i] = s.Name
	}

	t := &schema.Table{
		Key:            key,
		PhysicalTables: physicalNames,
		ValueColumns:   columnNames(valueCols),
		Sources:        sources,
		Translations:   langCols,
	}
	return t, total, nil
}

func inferFile(path string, keyCols []string) (*table.Inference, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return table.Infer(f, keyCols)
}

// splitKeyValue partitions cols into the declared key columns (in keyCols
// order) and the remaining value columns (in file order).
func splitKeyValue(cols []table.Column, keyCols []string) (key, value []table.Column) {
	byName := make(map[string]table.Column, len(cols))
	for _, c := range cols {
		byName[c.Name] = c
	}
	isKey := make(map[string]bool, len(keyCols))
	for _, k := range keyCols {
		isKey[k] = true
	}
	for _, k := range keyCols {
		if c, ok := byName[k]; ok {
			key = append(key, c)
		} else {
			key = append(key, table.Column{Name: k, Type: table.TypeVarchar, Width: 1})
		}
	}
	for _, c := range cols {
		if !isKey[c.Name] {
			value = append(value, c)
		}
	}
	return key, value
}

func columnNames(cols []table.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func bulkOptsFor(physical string, keyCols, valueCols []table.Column, sourcePath string) table.BulkLoadOptions {
	cols := append(columnNames(keyCols), columnNames(valueCols)...)
	return table.BulkLoadOptions{Table: physical, Columns: cols, SourcePath: sourcePath}
}

func translationColumnDefs(langCols map[string][]string) []table.TranslationColumn {
	var defs []table.TranslationColumn
	langs := make([]string, 0, len(langCols))
	for lang := range langCols {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		for _, col := range langCols[lang] {
			defs = append(defs, table.TranslationColumn{Column: col, Language: lang})
		}
	}
	return defs
}

func translationColumnDefsFor(langCols map[string][]string, shardCols []table.Column) []table.TranslationColumn {
	shardSet := make(map[string]bool, len(shardCols))
	for _, c := range shardCols {
		shardSet[c.Name] = true
	}
	var defs []table.TranslationColumn
	langs := make([]string, 0, len(langCols))
	for lang := range langCols {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		for _, col := range langCols[lang] {
			if shardSet[col] {
				defs = append(defs, table.TranslationColumn{Column: col, Language: lang})
			}
		}
	}
	return defs
}

func intersectColumns(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []string
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

// secondaryIndexCandidates picks key components worth a standalone index:
// every key component except the first (which the primary key already
// leads with) whose observed cardinality is at least
// table.SecondaryIndexCardinality or hit table.MaxTrackedCardinality.
func secondaryIndexCandidates(keyCols []table.Column) []string {
	if len(keyCols) <= 1 {
		return nil
	}
	out := make([]string, 0, len(keyCols)-1)
	for _, c := range keyCols[1:] {
		if c.Cardinality >= table.SecondaryIndexCardinality || c.Cardinality == table.MaxTrackedCardinality {
			out = append(out, c.Name)
		}
	}
	return out
}
