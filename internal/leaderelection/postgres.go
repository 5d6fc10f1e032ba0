package leaderelection

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"time"
)

// PostgresConnector returns a Connector that takes the advisory lock key on a
// dedicated connection from db.
func PostgresConnector(db *sql.DB, lockKey int64) Connector {
	return func(ctx context.Context) (Session, error) {
		// Advisory locks are session-scoped: must use a dedicated connection.
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return &pgSession{conn: conn, lockKey: lockKey}, nil
	}
}

type pgSession struct {
	conn    *sql.Conn
	lockKey int64
	locked  bool
}

func (s *pgSession) TryLock(ctx context.Context) (bool, error) {
	var acquired bool
	err := s.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", s.lockKey).Scan(&acquired)
	s.locked = acquired
	return acquired, err
}

func (s *pgSession) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close unlocks before returning the connection to the pool; otherwise the
// pooled session would keep holding the lock.
func (s *pgSession) Close() error {
	if s.locked {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", s.lockKey); err != nil {
			// Connection is unusable; drop it so the server ends the session.
			_ = s.conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		s.locked = false
	}
	return s.conn.Close()
}
