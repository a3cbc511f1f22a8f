package store

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/dbx"
	"github.com/lib/pq"
)

type dialect int

const (
	dialectPostgres dialect = iota + 1
	dialectSQLite
)

// sqlRepo implements the repositories whose SQL is shared by both backends.
// Queries are written with "?" placeholders and rebound for Postgres.
type sqlRepo struct {
	q       dbx.DBTX
	dialect dialect
}

func (r sqlRepo) rebind(query string) string {
	if r.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// inStrings renders a membership test of col against ids. pgType is the
// Postgres array type the ids are cast to, for example "uuid[]".
func (r sqlRepo) inStrings(col string, ids []string, pgType string) (string, []any) {
	if r.dialect == dialectPostgres {
		return col + " = ANY(?::" + pgType + ")", []any{pq.Array(ids)}
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return col + " IN (" + placeholders(len(ids)) + ")", args
}

// inInt64s renders a membership test of col against integer ids.
func (r sqlRepo) inInt64s(col string, ids []int64) (string, []any) {
	if r.dialect == dialectPostgres {
		return col + " = ANY(?::bigint[])", []any{pq.Array(ids)}
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return col + " IN (" + placeholders(len(ids)) + ")", args
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// dbTime normalizes timestamps before they are written. SQLite compares
// timestamps as text, so every stored value must share one zone.
func dbTime(t time.Time) time.Time {
	return t.UTC()
}

func dbTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return dbTime(*t)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = `id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`

// scanJob scans a Job from a row or rows cursor.
func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}
