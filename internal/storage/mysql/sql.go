package mysql

import (
	"fmt"

	"navigatum_sync/internal/domain"
)

// updated_at is left to ON UPDATE CURRENT_TIMESTAMP so an unchanged row stays
// untouched on re-sync.
const upsertProjectionTmpl = "INSERT INTO %s\n" +
	"  (`key`, data, name, tumonline_room_nr, `type`, type_common_name, lat, lon, hash)\n" +
	"VALUES\n" +
	"  (?, ?, ?, ?, ?, ?, ?, ?, ?)\n" +
	"ON DUPLICATE KEY UPDATE\n" +
	"  data              = VALUES(data),\n" +
	"  name              = VALUES(name),\n" +
	"  tumonline_room_nr = VALUES(tumonline_room_nr),\n" +
	"  `type`            = VALUES(`type`),\n" +
	"  type_common_name  = VALUES(type_common_name),\n" +
	"  lat               = VALUES(lat),\n" +
	"  lon               = VALUES(lon),\n" +
	"  hash              = VALUES(hash)\n"

const getLocationTmpl = "SELECT `key`, data, name, hash FROM %s WHERE `key` = ?"

// tables maps each language to its collection. Table names cannot be bound
// as parameters, so the statements are rendered once per table.
var tables = map[domain.Language]string{
	domain.LangDE: "de",
	domain.LangEN: "en",
}

var (
	upsertSQL      = render(upsertProjectionTmpl)
	getLocationSQL = render(getLocationTmpl)
)

const getCoordsSQL = "SELECT lat, lon FROM de WHERE `key` = ?"

const hashesSQL = "SELECT `key`, hash FROM de WHERE hash IS NOT NULL\n" +
	"UNION ALL\n" +
	"SELECT `key`, hash FROM en WHERE hash IS NOT NULL"

const keysTmpl = "SELECT `key` FROM %s ORDER BY `key`"

var keysSQL = render(keysTmpl)

const insertFailureSQL = `
INSERT INTO sync_failures (record_key, lang, kind, reason)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  kind    = VALUES(kind),
  reason  = VALUES(reason),
  seen_at = CURRENT_TIMESTAMP
`

const insertRunSQL = `
INSERT INTO sync_runs
  (started_at, finished_at, mode, fetched, processed, failed, outcome, error)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?)
`

const lastRunSQL = `
SELECT id, started_at, finished_at, mode, fetched, processed, failed, outcome, error
FROM sync_runs
ORDER BY id DESC
LIMIT 1
`

func render(tmpl string) map[domain.Language]string {
	out := make(map[domain.Language]string, len(tables))
	for lang, table := range tables {
		out[lang] = fmt.Sprintf(tmpl, table)
	}
	return out
}
