package mysqlcat

// migrations runs in order against a fresh or existing database. Each
// statement is expected to fail idempotently (duplicate table/index) on a
// database that already has it; those errors are swallowed by migrate.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS datasets (
		name VARCHAR(191) NOT NULL,
		version VARCHAR(40) NOT NULL,
		is__default BOOLEAN NOT NULL DEFAULT FALSE,
		definition JSON NOT NULL,
		imported DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		password VARCHAR(80) NULL,
		PRIMARY KEY (name, version)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE INDEX idx_datasets_name ON datasets (name)`,

	`CREATE INDEX idx_datasets_name_imported ON datasets (name, imported)`,
}
