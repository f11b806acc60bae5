package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	_ "modernc.org/sqlite"

	"watchparty/model"
)

// SQLProvider is a SQLite-backed Provider. It owns the single durable
// table in the system: user accounts with their auth tokens.
type SQLProvider struct {
	db *sql.DB
}

// NewSQLProvider opens (or creates) the identity database and runs
// migrations.
func NewSQLProvider(dbPath string) (*SQLProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("identity: open DB: %w", err)
	}

	ctx := context.Background()

	// WAL keeps concurrent token lookups from blocking each other.
	if _, err = db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("identity: set WAL: %w", err)
	}
	if _, err = db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("identity: set busy_timeout: %w", err)
	}

	sp := &SQLProvider{db: db}
	if err = sp.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("identity: migrate: %w", err)
	}
	return sp, nil
}

func (sp *SQLProvider) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT    NOT NULL CHECK(length(name) > 0),
		icon       TEXT    NOT NULL,
		token      TEXT    NOT NULL,
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);`
	_, err := sp.db.ExecContext(ctx, schema)
	return err
}

func (sp *SQLProvider) Close() error {
	return sp.db.Close()
}

func (sp *SQLProvider) VerifyToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := sp.db.QueryRowContext(ctx,
		`SELECT token FROM users WHERE id = ?`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownUser
	}
	if err != nil {
		return "", fmt.Errorf("identity: verify token: %w", err)
	}
	return token, nil
}

func (sp *SQLProvider) Lookup(ctx context.Context, userID string) (*Profile, error) {
	profile := Profile{ID: userID}
	err := sp.db.QueryRowContext(ctx,
		`SELECT name, icon, token FROM users WHERE id = ?`, userID).
		Scan(&profile.Name, &profile.Icon, &profile.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("identity: lookup: %w", err)
	}
	return &profile, nil
}

func (sp *SQLProvider) CreateIdentity(ctx context.Context, displayName string) (*Profile, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = fmt.Sprintf("guest-%04x", rand.Intn(0x10000))
	}
	icon := model.IconNames[rand.Intn(len(model.IconNames))]

	res, err := sp.db.ExecContext(ctx,
		`INSERT INTO users (name, icon, token) VALUES (?, ?, ?)`,
		displayName, icon, token)
	if err != nil {
		return nil, fmt.Errorf("identity: create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("identity: create: %w", err)
	}

	return &Profile{
		ID:    strconv.FormatInt(id, 10),
		Name:  displayName,
		Icon:  icon,
		Token: token,
	}, nil
}

func (sp *SQLProvider) UpdateDisplayName(ctx context.Context, id string, name string) error {
	return sp.update(ctx, `UPDATE users SET name = ? WHERE id = ?`, name, id)
}

func (sp *SQLProvider) UpdateIcon(ctx context.Context, id string, icon string) error {
	return sp.update(ctx, `UPDATE users SET icon = ? WHERE id = ?`, icon, id)
}

func (sp *SQLProvider) update(ctx context.Context, query string, value, id any) error {
	res, err := sp.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("identity: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("identity: update: %w", err)
	}
	if n == 0 {
		return ErrUnknownUser
	}
	return nil
}
