// Package postgres implements the users store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/config"
	"crm-gateway/internal/storage"
)

// Register makes the postgres adapter available to the storage factory.
func Register() {
	storage.Register("postgres", func(cfg *config.Config) (storage.Storage, error) {
		return NewAdapter(&Config{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			Username: cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		})
	})
}

type Config struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}

func (c *Config) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, sslMode)
}

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	db, err := sql.Open("pgx", config.ConnectionString())
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
		id BIGSERIAL PRIMARY KEY,
		telegram_id BIGINT NOT NULL UNIQUE,
		username TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS clients (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		crm_id BIGINT NOT NULL,
		branch_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		paid_lesson_count INTEGER NOT NULL DEFAULT 0,
		is_study BOOLEAN NOT NULL DEFAULT FALSE,
		has_scheduled_lessons BOOLEAN NOT NULL DEFAULT FALSE,
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

	err := a.db.QueryRowContext(ctx,
		`INSERT INTO users (telegram_id, username, phone, status, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		user.TelegramID, user.Username, user.Phone, user.Status, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		return errors.InternalError("failed to create user", err)
	}
	return nil
}

func (a *Adapter) UserByID(ctx context.Context, id int64) (*storage.User, error) {
	return a.scanUser(a.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, username, phone, status, created_at FROM users WHERE id = $1`, id))
}

func (a *Adapter) UserByTelegramID(ctx context.Context, telegramID int64) (*storage.User, error) {
	return a.scanUser(a.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, username, phone, status, created_at FROM users WHERE telegram_id = $1`, telegramID))
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
	result, err := a.db.ExecContext(ctx, `UPDATE users SET status = $1 WHERE id = $2`, status, userID)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, crm_id) DO UPDATE SET
			branch_id = EXCLUDED.branch_id,
			name = EXCLUDED.name,
			balance = EXCLUDED.balance,
			paid_lesson_count = EXCLUDED.paid_lesson_count,
			is_study = EXCLUDED.is_study,
			has_scheduled_lessons = EXCLUDED.has_scheduled_lessons,
			birthday = EXCLUDED.birthday`,
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
		 FROM clients WHERE user_id = $1 ORDER BY id`, userID)
}

func (a *Adapter) ClientsWithBirthday(ctx context.Context, day, month int) ([]*storage.Client, error) {
	return a.queryClients(ctx,
		`SELECT id, user_id, crm_id, branch_id, name, balance, paid_lesson_count, is_study, has_scheduled_lessons, birthday
		 FROM clients
		 WHERE birthday IS NOT NULL
		   AND EXTRACT(DAY FROM birthday) = $1
		   AND EXTRACT(MONTH FROM birthday) = $2
		 ORDER BY id`, day, month)
}

func (a *Adapter) ClientsWithLowBalance(ctx context.Context, maxPaidLessons int) ([]*storage.Client, error) {
	return a.queryClients(ctx,
		`SELECT id, user_id, crm_id, branch_id, name, balance, paid_lesson_count, is_study, has_scheduled_lessons, birthday
		 FROM clients WHERE is_study AND paid_lesson_count < $1 ORDER BY id`, maxPaidLessons)
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
