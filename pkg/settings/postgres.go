package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/iddaa-lens/redpacket/pkg/logger"
)

// DefaultTable is the settings table used when none is configured
const DefaultTable = "settings"

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresStore persists settings as key/value rows
type PostgresStore struct {
	db     DBTX
	table  string
	logger *logger.Logger

	selectQuery string
	upsertQuery string
}

// NewPostgresStore creates a store over db using the given table name.
// The name is quoted, so any identifier is accepted.
func NewPostgresStore(db DBTX, table string, log *logger.Logger) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	if log == nil {
		log = logger.New("settings-store")
	}
	quoted := pq.QuoteIdentifier(table)

	return &PostgresStore{
		db:          db,
		table:       table,
		logger:      log,
		selectQuery: "SELECT value FROM " + quoted + " WHERE key = $1",
		upsertQuery: "INSERT INTO " + quoted + " (key, value, updated_at) VALUES ($1, $2, now()) " +
			"ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at",
	}
}

// EnsureSchema creates the settings table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := "CREATE TABLE IF NOT EXISTS " + pq.QuoteIdentifier(s.table) + " (" +
		"key TEXT PRIMARY KEY, " +
		"value TEXT NOT NULL, " +
		"updated_at TIMESTAMPTZ NOT NULL DEFAULT now())"

	start := time.Now()
	_, err := s.db.Exec(ctx, query)
	s.logger.LogDatabaseOperation("create_table", s.table, 0, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to create settings table %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) IsConsentGranted(ctx context.Context) bool {
	return s.Bool(ctx, KeyAgreement, false)
}

func (s *PostgresStore) IsJobEnabled(ctx context.Context, jobKey string) bool {
	return s.Bool(ctx, jobKey, false)
}

// Bool reads key; missing rows, unparsable values and query errors yield def
func (s *PostgresStore) Bool(ctx context.Context, key string, def bool) bool {
	raw, ok := s.get(ctx, key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn().
			Str("key", key).
			Str("value", raw).
			Str("action", "settings_parse_failed").
			Msg("Stored setting is not a boolean, using default")
		return def
	}
	return v
}

// Int reads key; missing rows, unparsable values and query errors yield def
func (s *PostgresStore) Int(ctx context.Context, key string, def int) int {
	raw, ok := s.get(ctx, key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Warn().
			Str("key", key).
			Str("value", raw).
			Str("action", "settings_parse_failed").
			Msg("Stored setting is not an integer, using default")
		return def
	}
	return v
}

func (s *PostgresStore) SetBool(ctx context.Context, key string, value bool) error {
	return s.set(ctx, key, strconv.FormatBool(value))
}

func (s *PostgresStore) SetInt(ctx context.Context, key string, value int) error {
	return s.set(ctx, key, strconv.Itoa(value))
}

func (s *PostgresStore) get(ctx context.Context, key string) (string, bool) {
	var raw string
	err := s.db.QueryRow(ctx, s.selectQuery, key).Scan(&raw)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Error().
				Err(err).
				Str("key", key).
				Str("table", s.table).
				Str("action", "settings_read_failed").
				Msg("Failed to read setting, using default")
		}
		return "", false
	}
	return raw, true
}

func (s *PostgresStore) set(ctx context.Context, key, raw string) error {
	if key == "" {
		return ErrEmptyKey
	}

	start := time.Now()
	tag, err := s.db.Exec(ctx, s.upsertQuery, key, raw)
	s.logger.LogDatabaseOperation("upsert", s.table, int(tag.RowsAffected()), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
