package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/charmbracelet/log"
	"github.com/deemkeen/translatebot/domain"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the follower store.
type DB struct {
	db  *sql.DB
	log *log.Logger
}

const (
	maxBusyRetries = 5
	txTimeout      = 5 * time.Second
)

var followerColumns = []string{"actor_id", "inbox_url", "shared_inbox_url", "follow_activity_id", "followed_at"}

// A repeated Follow keeps followed_at and only rewrites the row when one of
// the delivery columns changed.
const sqlUpsertFollowerSuffix = `ON CONFLICT(actor_id) DO UPDATE SET
		inbox_url = excluded.inbox_url,
		shared_inbox_url = excluded.shared_inbox_url,
		follow_activity_id = excluded.follow_activity_id
	WHERE followers.inbox_url IS NOT excluded.inbox_url
		OR followers.shared_inbox_url IS NOT excluded.shared_inbox_url
		OR followers.follow_activity_id IS NOT excluded.follow_activity_id`

// Open opens (or creates) the sqlite database at path and runs migrations.
// ":memory:" gives a private in-memory database.
func Open(path string, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("DB")

	dsn := path
	inMemory := path == ":memory:"
	if !inMemory {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(8)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{db: sqlDB, log: logger}
	if err := db.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Database ready", "path", path)
	return db, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// UpsertFollower creates or refreshes a follower. On return f.FollowedAt
// holds the stored value, which repeated follows do not change.
func (db *DB) UpsertFollower(ctx context.Context, f *domain.Follower) error {
	if f.ActorID == "" {
		return errors.New("follower has no actor id")
	}
	if f.FollowedAt.IsZero() {
		f.FollowedAt = time.Now()
	}

	insert, args, err := sq.Insert("followers").
		Columns(followerColumns...).
		Values(f.ActorID, f.InboxURL, nullString(f.SharedInboxURL), f.FollowActivityID, f.FollowedAt.UnixMilli()).
		Suffix(sqlUpsertFollowerSuffix).
		ToSql()
	if err != nil {
		return err
	}
	query, qargs, err := sq.Select("followed_at").From("followers").Where(sq.Eq{"actor_id": f.ActorID}).ToSql()
	if err != nil {
		return err
	}

	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return err
		}
		var followedAt int64
		if err := tx.QueryRowContext(ctx, query, qargs...).Scan(&followedAt); err != nil {
			return err
		}
		f.FollowedAt = time.UnixMilli(followedAt)
		return nil
	})
}

// RemoveFollower deletes a follower. Removing an unknown actor is not an error.
func (db *DB) RemoveFollower(ctx context.Context, actorID string) error {
	stmt, args, err := sq.Delete("followers").Where(sq.Eq{"actor_id": actorID}).ToSql()
	if err != nil {
		return err
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, stmt, args...)
		return err
	})
}

// ReadFollower returns the follower or nil when the actor does not follow the bot.
func (db *DB) ReadFollower(ctx context.Context, actorID string) (*domain.Follower, error) {
	query, args, err := sq.Select(followerColumns...).From("followers").Where(sq.Eq{"actor_id": actorID}).ToSql()
	if err != nil {
		return nil, err
	}
	f, err := scanFollower(db.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ReadFollowers returns followers, oldest first. limit <= 0 means all.
func (db *DB) ReadFollowers(ctx context.Context, limit, offset int) ([]domain.Follower, error) {
	builder := sq.Select(followerColumns...).From("followers").OrderBy("followed_at ASC", "actor_id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
		if offset > 0 {
			builder = builder.Offset(uint64(offset))
		}
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followers []domain.Follower
	for rows.Next() {
		f, err := scanFollower(rows)
		if err != nil {
			return nil, err
		}
		followers = append(followers, *f)
	}
	return followers, rows.Err()
}

func (db *DB) CountFollowers(ctx context.Context) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("followers").ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFollower(row rowScanner) (*domain.Follower, error) {
	var (
		f          domain.Follower
		shared     sql.NullString
		followedAt int64
	)
	if err := row.Scan(&f.ActorID, &f.InboxURL, &shared, &f.FollowActivityID, &followedAt); err != nil {
		return nil, err
	}
	f.SharedInboxURL = shared.String
	f.FollowedAt = time.UnixMilli(followedAt)
	return &f, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code()&0xff == sqlitelib.SQLITE_BUSY
}

// wrapTransaction runs the given function within a transaction. A busy
// database restarts the whole transaction a few times before giving up.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			case <-time.After(time.Duration(attempt*20) * time.Millisecond):
			}
		}

		err = db.runTx(ctx, f)
		if err == nil || !isBusy(err) {
			break
		}
		db.log.Debug("Database busy, retrying transaction", "attempt", attempt+1)
	}
	if err != nil {
		db.log.Error("Transaction failed", "err", err)
	}
	return err
}

func (db *DB) runTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
