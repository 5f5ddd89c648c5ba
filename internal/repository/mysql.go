package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/smartirrigation/irrigation-api/internal/model"
)

// mysqlErrDuplicateEntry is the MySQL server error code for unique key violations.
const mysqlErrDuplicateEntry = 1062

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            CHAR(36)     NOT NULL PRIMARY KEY,
		email         VARCHAR(320) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		name          VARCHAR(128) NOT NULL DEFAULT '',
		roles         JSON         NOT NULL,
		created_at    DATETIME(6)  NOT NULL,
		updated_at    DATETIME(6)  NOT NULL,
		UNIQUE KEY users_email_unique (email)
	)`,
	`CREATE TABLE IF NOT EXISTS activity_logs (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		user_id    CHAR(36)     NOT NULL,
		action     VARCHAR(64)  NOT NULL,
		metadata   JSON         NULL,
		ip         VARCHAR(64)  NOT NULL DEFAULT '',
		user_agent VARCHAR(512) NOT NULL DEFAULT '',
		created_at DATETIME(6)  NOT NULL,
		KEY activity_user_created (user_id, created_at)
	)`,
}

// NewMySQLDB creates a new MySQL database connection pool with the given DSN.
func NewMySQLDB(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}

	return db, nil
}

// MySQLStore is the MySQL-backed Store.
type MySQLStore struct {
	db       *sql.DB
	users    *MySQLUserRepository
	activity *MySQLActivityRepository
}

// NewMySQLStore opens a pool for dsn and creates the tables if missing.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := NewMySQLDB(ctx, dsn)
	if err != nil {
		return nil, err
	}

	store := newMySQLStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{
		db:       db,
		users:    NewMySQLUserRepository(db),
		activity: NewMySQLActivityRepository(db),
	}
}

// EnsureSchema creates the users and activity_logs tables.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) Users() UserStore { return s.users }

func (s *MySQLStore) Activity() ActivityStore { return s.activity }

func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *MySQLStore) Close(_ context.Context) error {
	return s.db.Close()
}

// MySQLUserRepository handles user persistence in MySQL.
type MySQLUserRepository struct {
	db *sql.DB
}

// NewMySQLUserRepository creates a new MySQLUserRepository.
func NewMySQLUserRepository(db *sql.DB) *MySQLUserRepository {
	return &MySQLUserRepository{db: db}
}

// Create inserts a new user and sets the generated ID and timestamps on it.
func (r *MySQLUserRepository) Create(ctx context.Context, user *model.User) error {
	query := `INSERT INTO users (id, email, password_hash, name, roles, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	roles, err := json.Marshal(user.Roles)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	if _, err := r.db.ExecContext(ctx, query, id, user.Email, user.PasswordHash, user.Name, string(roles), now, now); err != nil {
		if isDuplicateEntryError(err) {
			return ErrDuplicateEmail
		}
		return err
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetByEmail retrieves a user by their email address.
func (r *MySQLUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT id, email, password_hash, name, roles, created_at, updated_at FROM users WHERE email = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetByID retrieves a user by their ID.
func (r *MySQLUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT id, email, password_hash, name, roles, created_at, updated_at FROM users WHERE id = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// UpdatePasswordHash replaces the stored hash of the given user.
func (r *MySQLUserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	query := `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, hash, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *MySQLUserRepository) scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var roles []byte
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name, &roles, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(roles, &user.Roles); err != nil {
		return nil, fmt.Errorf("decoding roles: %w", err)
	}
	return user, nil
}

// isDuplicateEntryError checks if a MySQL error is a duplicate entry error (code 1062).
func isDuplicateEntryError(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry
}

// MySQLActivityRepository handles activity log persistence in MySQL.
type MySQLActivityRepository struct {
	db *sql.DB
}

// NewMySQLActivityRepository creates a new MySQLActivityRepository.
func NewMySQLActivityRepository(db *sql.DB) *MySQLActivityRepository {
	return &MySQLActivityRepository{db: db}
}

// Append inserts one entry and sets its generated ID and timestamp.
func (r *MySQLActivityRepository) Append(ctx context.Context, entry *model.ActivityLog) error {
	query := `INSERT INTO activity_logs (id, user_id, action, metadata, ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	var metadata sql.NullString
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	// UUIDv7 sorts by creation, which keeps the id tiebreak in ListByUser stable.
	uid, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating id: %w", err)
	}
	id := uid.String()
	now := time.Now().UTC()

	if _, err := r.db.ExecContext(ctx, query, id, entry.UserID, entry.Action, metadata, entry.IP, entry.UserAgent, now); err != nil {
		return err
	}

	entry.ID = id
	entry.CreatedAt = now
	return nil
}

// ListByUser returns the user's entries newest first.
func (r *MySQLActivityRepository) ListByUser(ctx context.Context, userID string, opts model.ListActivityOptions) ([]model.ActivityLog, error) {
	query := `SELECT id, user_id, action, metadata, ip, user_agent, created_at FROM activity_logs WHERE user_id = ?`
	args := []any{userID}

	switch {
	case opts.Before != nil && opts.BeforeID != "":
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, opts.Before.UTC(), opts.Before.UTC(), opts.BeforeID)
	case opts.Before != nil:
		query += ` AND created_at < ?`
		args = append(args, opts.Before.UTC())
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.ActivityLog{}
	for rows.Next() {
		var e model.ActivityLog
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &metadata, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
