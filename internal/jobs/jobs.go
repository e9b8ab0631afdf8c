// Package jobs holds the periodic maintenance work: token refresh, CRM
// client sync, birthday congratulations and balance reminders.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crm-gateway/internal/common/logging"
	"crm-gateway/internal/crm"
	"crm-gateway/internal/notify"
	"crm-gateway/internal/storage"
)

// Gateway is the slice of the CRM client the jobs consume.
type Gateway interface {
	SearchByPhone(ctx context.Context, phone string) (*crm.PageResult, error)
}

// TokenRefresher forces a new CRM login.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

type Jobs struct {
	gateway  Gateway
	tokens   TokenRefresher
	store    storage.Storage
	notifier notify.Notifier
	logger   logging.Logger

	// now is swapped out in tests to pin the date.
	now func() time.Time
}

func New(gateway Gateway, tokens TokenRefresher, store storage.Storage, notifier notify.Notifier, logger logging.Logger) *Jobs {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Jobs{
		gateway:  gateway,
		tokens:   tokens,
		store:    store,
		notifier: notifier,
		logger:   logger.WithFields(logging.String("component", "jobs")),
		now:      time.Now,
	}
}

// RefreshToken renews the cached CRM token ahead of its expiry so request
// paths rarely pay for a login.
func (j *Jobs) RefreshToken(ctx context.Context) error {
	if _, err := j.tokens.Refresh(ctx); err != nil {
		j.logger.Error("token refresh failed", err)
		return err
	}
	j.logger.Info("token refreshed")
	return nil
}

// crmCustomer is the slice of a CRM customer record the sync consumes.
type crmCustomer struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Balance         float64 `json:"balance"`
	PaidLessonCount int     `json:"paid_lesson_count"`
	IsStudy         int     `json:"is_study"`
	DOB             string  `json:"dob"`
	BranchIDs       []int   `json:"branch_ids"`
}

// SyncClients re-reads every user's CRM customers by phone and refreshes
// the stored client rows and user statuses. One user failing does not stop
// the sweep.
func (j *Jobs) SyncClients(ctx context.Context) error {
	users, err := j.store.Users(ctx)
	if err != nil {
		return err
	}

	j.logger.Info("client sync started", logging.Int("users", len(users)))
	var failed int

	for _, user := range users {
		if user.Phone == "" {
			continue
		}
		if err := j.syncUser(ctx, user); err != nil {
			j.logger.Warn("user sync failed",
				logging.Int64("telegram_id", user.TelegramID),
				logging.Err(err))
			failed++
		}
	}

	j.logger.Info("client sync finished", logging.Int("failed", failed))
	if failed == len(users) && failed > 0 {
		return fmt.Errorf("client sync failed for all %d users", failed)
	}
	return nil
}

func (j *Jobs) syncUser(ctx context.Context, user *storage.User) error {
	page, err := j.gateway.SearchByPhone(ctx, user.Phone)
	if err != nil {
		return err
	}

	for _, item := range page.Items {
		var customer crmCustomer
		if err := json.Unmarshal(item, &customer); err != nil || customer.ID == 0 {
			continue
		}

		branchID := 1
		if len(customer.BranchIDs) > 0 {
			branchID = customer.BranchIDs[0]
		}

		client := &storage.Client{
			UserID:          user.ID,
			CRMID:           customer.ID,
			BranchID:        branchID,
			Name:            customer.Name,
			Balance:         customer.Balance,
			PaidLessonCount: customer.PaidLessonCount,
			IsStudy:         customer.IsStudy == 1,
		}
		if dob, err := parseDOB(customer.DOB); err == nil {
			client.Birthday = &dob
		}

		if err := j.store.UpsertClient(ctx, client); err != nil {
			return err
		}
	}

	clients, err := j.store.ClientsByUser(ctx, user.ID)
	if err != nil {
		return err
	}

	status := storage.DeriveStatus(clients)
	if status != user.Status {
		return j.store.UpdateUserStatus(ctx, user.ID, status)
	}
	return nil
}

// parseDOB accepts both date spellings the CRM has been seen emitting.
func parseDOB(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if dob, err := time.Parse("2006-01-02", value); err == nil {
		return dob, nil
	}
	return time.Parse("02.01.2006", value)
}

// BirthdayCongratulations sends a congratulation to every client whose
// birthday is today.
func (j *Jobs) BirthdayCongratulations(ctx context.Context) error {
	today := j.now()
	clients, err := j.store.ClientsWithBirthday(ctx, today.Day(), int(today.Month()))
	if err != nil {
		return err
	}

	j.logger.Info("birthday sweep", logging.Int("clients", len(clients)))

	for _, client := range clients {
		user, err := j.store.UserByID(ctx, client.UserID)
		if err != nil || user.TelegramID == 0 {
			continue
		}

		message := fmt.Sprintf(
			"🎂 Поздравляем с Днем Рождения, %s! 🎉\n\n"+
				"Команда KIBERone желает тебе успехов в учебе, новых открытий и достижений!\n\n"+
				"Пусть этот день будет наполнен радостью и счастьем!\n\n"+
				"Твой KIBERone! ❤️", client.Name)

		if err := j.notifier.Send(ctx, user.TelegramID, message); err != nil {
			j.logger.Warn("birthday message failed",
				logging.Int64("telegram_id", user.TelegramID),
				logging.Err(err))
		}
	}
	return nil
}

// BalanceReminders notifies users whose studying clients have no paid
// lessons left. The wording changes after the 10th: by then an unpaid
// balance blocks attendance, so the reminder carries the payment pointer.
func (j *Jobs) BalanceReminders(ctx context.Context) error {
	clients, err := j.store.ClientsWithLowBalance(ctx, 1)
	if err != nil {
		return err
	}

	j.logger.Info("balance sweep", logging.Int("clients", len(clients)))
	afterTenth := j.now().Day() > 10

	for _, client := range clients {
		user, err := j.store.UserByID(ctx, client.UserID)
		if err != nil || user.TelegramID == 0 {
			continue
		}

		var message string
		if afterTenth {
			message = fmt.Sprintf(
				"⚠️ Напоминаем: у %s закончились оплаченные занятия.\n\n"+
					"Пожалуйста, продлите абонемент, чтобы не пропустить следующий урок. "+
					"Оплатить можно через ЕРИП — раздел «Оплата» в боте.", client.Name)
		} else {
			message = fmt.Sprintf(
				"ℹ️ У %s заканчиваются оплаченные занятия.\n\n"+
					"Не забудьте продлить абонемент до следующего урока.", client.Name)
		}

		if err := j.notifier.Send(ctx, user.TelegramID, message); err != nil {
			j.logger.Warn("balance reminder failed",
				logging.Int64("telegram_id", user.TelegramID),
				logging.Err(err))
		}
	}
	return nil
}
