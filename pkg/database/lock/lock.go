// Package lock keeps one service process per identity when several processes
// share a settings database, using PostgreSQL session advisory locks.
package lock

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/iddaa-lens/redpacket/pkg/logger"
)

// ErrHeldElsewhere is returned when another session owns the lock
var ErrHeldElsewhere = errors.New("instance lock is held by another process")

// Conn runs lock queries. Advisory locks belong to a session, so every call
// must go to the same connection, e.g. a *pgxpool.Conn from Acquire.
type Conn interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// InstanceLock is a named session advisory lock
type InstanceLock struct {
	conn   Conn
	name   string
	id     int64
	held   bool
	logger *logger.Logger
}

// New creates an unheld lock for name on conn
func New(conn Conn, name string, log *logger.Logger) *InstanceLock {
	if log == nil {
		log = logger.New("instance-lock")
	}
	return &InstanceLock{
		conn:   conn,
		name:   name,
		id:     ID(name),
		logger: log,
	}
}

// ID derives the int64 advisory lock key from name
func ID(name string) int64 {
	hash := md5.Sum([]byte(name))

	id := int64(0)
	for i := 0; i < 8; i++ {
		id = id<<8 + int64(hash[i])
	}
	if id < 0 {
		id = -id
	}
	return id
}

// TryAcquire takes the lock without waiting and reports whether it is held
func (l *InstanceLock) TryAcquire(ctx context.Context) (bool, error) {
	if l.held {
		return true, nil
	}

	var acquired bool
	if err := l.conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&acquired); err != nil {
		l.logger.Error().
			Err(err).
			Str("lock_name", l.name).
			Int64("lock_id", l.id).
			Str("action", "acquire_lock_failed").
			Msg("Failed to acquire instance lock")
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.name, err)
	}

	l.held = acquired
	if acquired {
		l.logger.Info().
			Str("lock_name", l.name).
			Int64("lock_id", l.id).
			Str("action", "lock_acquired").
			Msg("Acquired instance lock")
	} else {
		l.logger.Debug().
			Str("lock_name", l.name).
			Int64("lock_id", l.id).
			Str("action", "lock_already_held").
			Msg("Instance lock held by another process")
	}
	return acquired, nil
}

// Release unlocks if held. Releasing an unheld lock is a no-op.
func (l *InstanceLock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}

	var released bool
	if err := l.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", l.id).Scan(&released); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.name, err)
	}
	l.held = false

	if !released {
		l.logger.Warn().
			Str("lock_name", l.name).
			Str("action", "lock_not_held").
			Msg("Session did not hold the instance lock")
	}
	return nil
}

// Held reports whether this lock currently owns the advisory lock
func (l *InstanceLock) Held() bool {
	return l.held
}
