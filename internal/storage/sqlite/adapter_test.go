package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/storage"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(&Config{DatabasePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func seedUser(t *testing.T, adapter *Adapter, telegramID int64) *storage.User {
	t.Helper()
	user := &storage.User{TelegramID: telegramID, Username: "parent", Phone: "79001234567"}
	require.NoError(t, adapter.CreateUser(context.Background(), user))
	return user
}

func TestAdapter_ConfigValidation(t *testing.T) {
	_, err := NewAdapter(&Config{})
	require.Error(t, err)
}

func TestAdapter_UserLifecycle(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	user := seedUser(t, adapter, 111)
	assert.NotZero(t, user.ID)
	assert.Equal(t, storage.StatusLead, user.Status)

	byID, err := adapter.UserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.TelegramID, byID.TelegramID)
	assert.Equal(t, "79001234567", byID.Phone)

	byTelegram, err := adapter.UserByTelegramID(ctx, 111)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byTelegram.ID)

	require.NoError(t, adapter.UpdateUserStatus(ctx, user.ID, storage.StatusClient))
	updated, err := adapter.UserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusClient, updated.Status)

	seedUser(t, adapter, 222)
	users, err := adapter.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestAdapter_MissingUser(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	_, err := adapter.UserByTelegramID(ctx, 999)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	err = adapter.UpdateUserStatus(ctx, 999, storage.StatusClient)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestAdapter_UpsertClient(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()
	user := seedUser(t, adapter, 111)

	birthday := time.Date(2015, 6, 15, 0, 0, 0, 0, time.UTC)
	client := &storage.Client{
		UserID:          user.ID,
		CRMID:           314,
		BranchID:        1,
		Name:            "Masha",
		Balance:         1200,
		PaidLessonCount: 4,
		IsStudy:         true,
		Birthday:        &birthday,
	}
	require.NoError(t, adapter.UpsertClient(ctx, client))

	// Same (user, crm_id) again updates in place instead of duplicating.
	client.Balance = 600
	client.PaidLessonCount = 2
	require.NoError(t, adapter.UpsertClient(ctx, client))

	clients, err := adapter.ClientsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, float64(600), clients[0].Balance)
	assert.Equal(t, 2, clients[0].PaidLessonCount)
	assert.True(t, clients[0].IsStudy)
	require.NotNil(t, clients[0].Birthday)
	assert.Equal(t, 15, clients[0].Birthday.Day())
	assert.Equal(t, time.June, clients[0].Birthday.Month())
}

func TestAdapter_ClientsWithBirthday(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()
	user := seedUser(t, adapter, 111)

	june := time.Date(2015, 6, 15, 0, 0, 0, 0, time.UTC)
	july := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, adapter.UpsertClient(ctx, &storage.Client{UserID: user.ID, CRMID: 1, BranchID: 1, Name: "Masha", Birthday: &june}))
	require.NoError(t, adapter.UpsertClient(ctx, &storage.Client{UserID: user.ID, CRMID: 2, BranchID: 1, Name: "Petya", Birthday: &july}))
	require.NoError(t, adapter.UpsertClient(ctx, &storage.Client{UserID: user.ID, CRMID: 3, BranchID: 1, Name: "NoBirthday"}))

	clients, err := adapter.ClientsWithBirthday(ctx, 15, 6)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Masha", clients[0].Name)

	clients, err = adapter.ClientsWithBirthday(ctx, 2, 2)
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestAdapter_ClientsWithLowBalance(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()
	user := seedUser(t, adapter, 111)

	require.NoError(t, adapter.UpsertClient(ctx, &storage.Client{UserID: user.ID, CRMID: 1, BranchID: 1, Name: "Low", PaidLessonCount: 1, IsStudy: true}))
	require.NoError(t, adapter.UpsertClient(ctx, &storage.Client{UserID: user.ID, CRMID: 2, BranchID: 1, Name: "Full", PaidLessonCount: 8, IsStudy: true}))
	require.NoError(t, adapter.UpsertClient(ctx, &storage.Client{UserID: user.ID, CRMID: 3, BranchID: 1, Name: "Lead", PaidLessonCount: 0, IsStudy: false}))

	clients, err := adapter.ClientsWithLowBalance(ctx, 3)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Low", clients[0].Name)
}
