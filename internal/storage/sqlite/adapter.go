// Package sqlite implements the users store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/config"
	"crm-gateway/internal/storage"
)

// Register makes the sqlite adapter available to the storage factory.
func Register() {
	storage.Register("sqlite", func(cfg *config.Config) (storage.Storage, error) {
		return NewAdapter(&Config{DatabasePath: cfg.DatabasePath})
	})
}

type Config struct {
	DatabasePath string
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		telegram_id INTEGER NOT NULL UNIQUE,
		username TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		crm_id INTEGER NOT NULL,
		branch_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		balance REAL NOT NULL DEFAULT 0,
		paid_lesson_count INTEGER NOT NULL DEFAULT 0,
		is_study INTEGER NOT NULL DEFAULT 0,
		has_scheduled_lessons INTEGER NOT NULL DEFAULT 0,
		birthday DATE,
		UNIQUE(user_id, crm_id)
	);

	CREATE INDEX IF NOT EXISTS idx_clients_user_id ON clients(user_id);
	`
	_, err := a.db.Exec(schema)
	return err
}

func (a *Adapter) CreateUser(ctx context.Context, user *storage.User) error {
	if user.Status == "" {
		user.Status = storage.StatusLead
	}
	user.CreatedAt = time.Now().UTC()

	result, err := a.db.ExecContext(ctx,
		`INSERT INTO users (telegram_id, username, phone, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.TelegramID, user.Username, user.Phone, user.Status, user.CreatedAt)
	if err != nil {
		return errors.InternalError("failed to create user", err)
	}

	user.ID, err = result.LastInsertId()
	return err
}

func (a *Adapter) UserByID(ctx context.Context, id int64) (*storage.User, error) {
	return a.scanUser(a.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, username, phone, status, created_at FROM users WHERE id = ?`, id))
}

func (a *Adapter) UserByTelegramID(ctx context.Context, telegramID int64) (*storage.User, error) {
	return a.scanUser(a.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, username, phone, status, created_at FROM users WHERE telegram_id = ?`, telegramID))
}

func (a *Adapter) scanUser(row *sql.Row) (*storage.User, error) {
	var user storage.User
	err := row.Scan(&user.ID, &user.TelegramID, &user.Username, &user.Phone, &user.Status, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("user")
	}
	if err != nil {
		return nil, errors.InternalError("failed to load user", err)
	}
	return &user, nil
}

func (a *Adapter) Users(ctx context.Context) ([]*storage.User, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, telegram_id, username, phone, status, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, errors.InternalError("failed to list users", err)
	}
	defer rows.Close()

	var users []*storage.User
	for rows.Next() {
		var user storage.User
		if err := rows.Scan(&user.ID, &user.TelegramID, &user.Username, &user.Phone, &user.Status, &user.CreatedAt); err != nil {
			return nil, errors.InternalError("failed to scan user", err)
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}

func (a *Adapter) UpdateUserStatus(ctx context.Context, userID int64, status string) error {
	result, err := a.db.ExecContext(ctx, `UPDATE users SET status = ? WHERE id = ?`, status, userID)
	if err != nil {
		return errors.InternalError("failed to update user status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFoundError("user")
	}
	return nil
}

func (a *Adapter) UpsertClient(ctx context.Context, client *storage.Client) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO clients (user_id, crm_id, branch_id, name, balance, paid_lesson_count, is_study, has_scheduled_lessons, birthday)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, crm_id) DO UPDATE SET
			branch_id = excluded.branch_id,
			name = excluded.name,
			balance = excluded.balance,
			paid_lesson_count = excluded.paid_lesson_count,
			is_study = excluded.is_study,
			has_scheduled_lessons = excluded.has_scheduled_lessons,
			birthday = excluded.birthday`,
		client.UserID, client.CRMID, client.BranchID, client.Name, client.Balance,
		client.PaidLessonCount, client.IsStudy, client.HasScheduledLessons, client.Birthday)
	if err != nil {
		return errors.InternalError("failed to upsert client", err)
	}
	return nil
}

func (a *Adapter) ClientsByUser(ctx context.Context, userID int64) ([]*storage.Client, error) {
	return a.queryClients(ctx,
		`SELECT id, user_id, crm_id, branch_id, name, balance, paid_lesson_count, is_study, has_scheduled_lessons, birthday
		 FROM clients WHERE user_id = ? ORDER BY id`, userID)
}

func (a *Adapter) ClientsWithBirthday(ctx context.Context, day, month int) ([]*storage.Client, error) {
	return a.queryClients(ctx,
		`SELECT id, user_id, crm_id, branch_id, name, balance, paid_lesson_count, is_study, has_scheduled_lessons, birthday
		 FROM clients
		 WHERE birthday IS NOT NULL
		   AND CAST(strftime('%d', birthday) AS INTEGER) = ?
		   AND CAST(strftime('%m', birthday) AS INTEGER) = ?
		 ORDER BY id`, day, month)
}

func (a *Adapter) ClientsWithLowBalance(ctx context.Context, maxPaidLessons int) ([]*storage.Client, error) {
	return a.queryClients(ctx,
		`SELECT id, user_id, crm_id, branch_id, name, balance, paid_lesson_count, is_study, has_scheduled_lessons, birthday
		 FROM clients WHERE is_study = 1 AND paid_lesson_count < ? ORDER BY id`, maxPaidLessons)
}

func (a *Adapter) queryClients(ctx context.Context, query string, args ...interface{}) ([]*storage.Client, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.InternalError("failed to query clients", err)
	}
	defer rows.Close()

	var clients []*storage.Client
	for rows.Next() {
		var client storage.Client
		var birthday sql.NullTime
		if err := rows.Scan(&client.ID, &client.UserID, &client.CRMID, &client.BranchID, &client.Name,
			&client.Balance, &client.PaidLessonCount, &client.IsStudy, &client.HasScheduledLessons, &birthday); err != nil {
			return nil, errors.InternalError("failed to scan client", err)
		}
		if birthday.Valid {
			client.Birthday = &birthday.Time
		}
		clients = append(clients, &client)
	}
	return clients, rows.Err()
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) Close() error {
	return a.db.Close()
}
