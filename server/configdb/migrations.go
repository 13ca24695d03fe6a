package configdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE variable(
			key TEXT PRIMARY KEY,
			value TEXT
		);

		CREATE TABLE recording(
			id INTEGER PRIMARY KEY,
			uuid TEXT NOT NULL,
			start_at INT NOT NULL,
			finish_at INT,
			path TEXT NOT NULL,
			frames INT NOT NULL DEFAULT 0,
			width INT NOT NULL DEFAULT 0,
			height INT NOT NULL DEFAULT 0
		);
		CREATE UNIQUE INDEX idx_recording_uuid ON recording (uuid);
	`))

	return migs
}
