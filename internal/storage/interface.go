// Package storage persists bot users and their CRM client records. Two
// adapters (SQLite and PostgreSQL) implement one interface; the factory
// picks one from configuration.
package storage

import (
	"context"
	"time"
)

// User statuses mirror how the bot classifies a parent account.
const (
	StatusLead          = "0" // no clients studying, nothing scheduled
	StatusLeadScheduled = "1" // a trial or group lesson is scheduled
	StatusClient        = "2" // at least one client is studying
)

// User is a Telegram bot account, usually a parent.
type User struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Username   string    `json:"username"`
	Phone      string    `json:"phone_number"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Client is one CRM customer record attached to a user, usually a child.
type Client struct {
	ID                  int64      `json:"id"`
	UserID              int64      `json:"user_id"`
	CRMID               int64      `json:"crm_id"`
	BranchID            int        `json:"branch_id"`
	Name                string     `json:"name"`
	Balance             float64    `json:"balance"`
	PaidLessonCount     int        `json:"paid_lesson_count"`
	IsStudy             bool       `json:"is_study"`
	HasScheduledLessons bool       `json:"has_scheduled_lessons"`
	Birthday            *time.Time `json:"birthday,omitempty"`
}

// Storage is the persistence contract for users and clients.
type Storage interface {
	CreateUser(ctx context.Context, user *User) error
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	Users(ctx context.Context) ([]*User, error)
	UpdateUserStatus(ctx context.Context, userID int64, status string) error

	// UpsertClient inserts or replaces a client keyed by (user_id, crm_id).
	UpsertClient(ctx context.Context, client *Client) error
	ClientsByUser(ctx context.Context, userID int64) ([]*Client, error)
	ClientsWithBirthday(ctx context.Context, day, month int) ([]*Client, error)
	ClientsWithLowBalance(ctx context.Context, maxPaidLessons int) ([]*Client, error)

	Health() error
	Close() error
}

// DeriveStatus recomputes a user's status from their client records:
// any studying client makes them a client, any scheduled lesson makes them
// a warm lead, otherwise they stay a plain lead.
func DeriveStatus(clients []*Client) string {
	scheduled := false
	for _, c := range clients {
		if c.IsStudy {
			return StatusClient
		}
		if c.HasScheduledLessons {
			scheduled = true
		}
	}
	if scheduled {
		return StatusLeadScheduled
	}
	return StatusLead
}
