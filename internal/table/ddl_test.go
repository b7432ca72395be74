package table

import (
	"strings"
	"testing"
)

func TestBuildCreateTable_KeyValueAndPrimaryKey(t *testing.T) {
	keyCols := []Column{{Name: "geo", Type: TypeVarchar, Width: 8}}
	valueCols := []Column{{Name: "population", Type: TypeInteger}}

	ddl := BuildCreateTable("ddf--entities--geo--country", keyCols, valueCols, []string{"country"}, nil)

	if !strings.Contains(ddl, "CREATE OR REPLACE TABLE") {
		t.Errorf("expected CREATE OR REPLACE TABLE, got %s", ddl)
	}
	if !strings.Contains(ddl, "`geo` VARCHAR(8) NOT NULL") {
		t.Errorf("expected key column clause, got %s", ddl)
	}
	if !strings.Contains(ddl, "`population` INTEGER NULL") {
		t.Errorf("expected value column clause, got %s", ddl)
	}
	if !strings.Contains(ddl, "`is--country` BOOLEAN NOT NULL DEFAULT FALSE") {
		t.Errorf("expected entity-set boolean column, got %s", ddl)
	}
	if !strings.Contains(ddl, "PRIMARY KEY (`geo`)") {
		t.Errorf("expected primary key clause, got %s", ddl)
	}
}

func TestBuildCreateTable_TranslationColumnsComputeVirtual(t *testing.T) {
	keyCols := []Column{{Name: "geo", Type: TypeVarchar, Width: 8}}
	valueCols := []Column{{Name: "name", Type: TypeVarchar, Width: 40}}
	translations := []TranslationColumn{{Column: "name", Language: "sv"}}

	ddl := BuildCreateTable("ddf--entities--geo--country", keyCols, valueCols, nil, translations)

	if !strings.Contains(ddl, "`_name--sv` VARCHAR(2000) NULL") {
		t.Errorf("expected stored translation column, got %s", ddl)
	}
	if !strings.Contains(ddl, "`name--sv` VARCHAR(2000) AS (COALESCE(`_name--sv`, `name`)) VIRTUAL") {
		t.Errorf("expected virtual coalescing column, got %s", ddl)
	}
}

func TestBuildSecondaryIndex(t *testing.T) {
	stmt := BuildSecondaryIndex("ddf--entities--geo--country", "region")
	if !strings.HasPrefix(stmt, "CREATE INDEX") {
		t.Errorf("expected CREATE INDEX statement, got %s", stmt)
	}
	if !strings.Contains(stmt, "ON `ddf--entities--geo--country` (`region`)") {
		t.Errorf("expected table/column reference, got %s", stmt)
	}
}

func TestDropAndRecreatePrimaryKey(t *testing.T) {
	drop := DropPrimaryKey("t")
	if drop != "ALTER TABLE `t` DROP PRIMARY KEY" {
		t.Errorf("unexpected drop statement: %s", drop)
	}
	recreate := RecreatePrimaryKey("t", []string{"geo", "time"})
	if recreate != "ALTER TABLE `t` ADD PRIMARY KEY (`geo`, `time`)" {
		t.Errorf("unexpected recreate statement: %s", recreate)
	}
}
