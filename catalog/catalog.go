// Package catalog implements the persistent reservation store: the
// spider_service table the Scheduler streams at startup and the Worker
// falls back to on an account-cache miss, plus read access to the
// per-service content_<service>account tables.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fenwicklabs/reservoir/errors"
)

// Reservation is one row of spider_service.
type Reservation struct {
	UUID      string // 32 hex chars
	Type      string // function_name
	AccountID int64
}

// Store is the catalog's data access contract. The core reads account data
// (content_<service>account) but owns writes to spider_service: Interface
// inserts on creation, the invoker deletes on a DeleteReservation signal.
type Store interface {
	// StreamReservations reads spider_service in chunks of chunkSize rows,
	// invoking fn for each row. Used by the Scheduler at startup to seed
	// its heap. Returning an error from fn stops the stream early.
	StreamReservations(ctx context.Context, chunkSize int, fn func(Reservation) error) error

	// GetReservation looks up a single spider_service row by uuid. Used by
	// the Worker on an account-cache miss.
	GetReservation(ctx context.Context, uuid string) (Reservation, error)

	// GetAccount reads the full account row from content_<service>account
	// for the given service and account id, returning column name to
	// string value. The core does not create or migrate this table; it is
	// assumed to already exist, owned by an external system.
	GetAccount(ctx context.Context, service string, accountID int64) (map[string]string, error)

	// InsertReservation persists a new reservation created by the
	// Interface.
	InsertReservation(ctx context.Context, r Reservation) error

	// DeleteReservation removes a reservation, invoked when a plugin
	// signals DeleteReservation.
	DeleteReservation(ctx context.Context, uuid string) error
}

// ErrNotFound is returned when a reservation or account row does not exist.
var ErrNotFound = errors.New("catalog: not found")

// SQLiteStore is a Store backed by the shared SQLite database opened via
// the db package.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-open, already-migrated database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) StreamReservations(ctx context.Context, chunkSize int, fn func(Reservation) error) error {
	if chunkSize <= 0 {
		chunkSize = 10000
	}

	var lastID int64
	for {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, uuid, type, account_id FROM spider_service WHERE id > ? ORDER BY id LIMIT ?`,
			lastID, chunkSize,
		)
		if err != nil {
			return errors.Wrap(err, "stream reservations")
		}

		var n int
		for rows.Next() {
			var id int64
			var r Reservation
			if err := rows.Scan(&id, &r.UUID, &r.Type, &r.AccountID); err != nil {
				rows.Close()
				return errors.Wrap(err, "scan reservation row")
			}
			lastID = id
			n++
			if err := fn(r); err != nil {
				rows.Close()
				return err
			}
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "iterate reservation rows")
		}
		if closeErr != nil {
			return errors.Wrap(closeErr, "close reservation rows")
		}
		if n < chunkSize {
			return nil
		}
	}
}

func (s *SQLiteStore) GetReservation(ctx context.Context, uuid string) (Reservation, error) {
	var r Reservation
	r.UUID = uuid
	err := s.db.QueryRowContext(ctx,
		`SELECT type, account_id FROM spider_service WHERE uuid = ?`, uuid,
	).Scan(&r.Type, &r.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	if err != nil {
		return Reservation{}, errors.Wrapf(err, "get reservation %s", uuid)
	}
	return r, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, service string, accountID int64) (map[string]string, error) {
	table := accountTableName(service)

	rows, err := s.db.QueryContext(ctx, `SELECT * FROM `+table+` WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, errors.Wrapf(err, "get account %d for service %s", accountID, service)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read account columns")
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "iterate account row")
		}
		return nil, ErrNotFound
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, errors.Wrap(err, "scan account row")
	}

	account := make(map[string]string, len(cols))
	for i, col := range cols {
		account[col] = stringifyColumn(values[i])
	}
	return account, nil
}

func (s *SQLiteStore) InsertReservation(ctx context.Context, r Reservation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spider_service (uuid, type, account_id) VALUES (?, ?, ?)`,
		r.UUID, r.Type, r.AccountID,
	)
	if err != nil {
		return errors.Wrapf(err, "insert reservation %s", r.UUID)
	}
	return nil
}

func (s *SQLiteStore) DeleteReservation(ctx context.Context, uuid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spider_service WHERE uuid = ?`, uuid)
	if err != nil {
		return errors.Wrapf(err, "delete reservation %s", uuid)
	}
	return nil
}

// accountTableName builds the content_<service>account table name. service
// is expected to already be a validated, registered plugin namespace, never
// raw user input, so simple concatenation mirrors the convention used
// throughout the catalog without inviting injection from an untrusted path.
func accountTableName(service string) string {
	return "content_" + service + "account"
}

func stringifyColumn(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
