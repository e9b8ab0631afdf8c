package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/common/logging"
	"crm-gateway/internal/storage"
)

// FindUserInDB looks a bot user up by Telegram id.
func (h *Handlers) FindUserInDB(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TelegramID int64 `json:"telegram_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.TelegramID == 0 {
		h.respondError(w, http.StatusBadRequest, "telegram_id обязателен")
		return
	}

	user, err := h.store.UserByTelegramID(r.Context(), req.TelegramID)
	if err != nil {
		h.fail(w, err, "Пользователь не найден")
		return
	}

	h.respond(w, http.StatusOK, envelope{
		"success": true,
		"message": "Пользователь найден в базе данных",
		"user":    user,
	})
}

// RegisterUserInDB stores a new bot user. Registration is idempotent: a
// repeat /start from an already-known Telegram account answers with the
// existing record instead of an error.
func (h *Handlers) RegisterUserInDB(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TelegramID  int64  `json:"telegram_id"`
		Username    string `json:"username"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := decodeBody(r, &req); err != nil || req.TelegramID == 0 || req.Username == "" || req.PhoneNumber == "" {
		h.respondError(w, http.StatusBadRequest, "Необходимо указать telegram_id, username и phone_number")
		return
	}

	existing, err := h.store.UserByTelegramID(r.Context(), req.TelegramID)
	if err == nil {
		h.respond(w, http.StatusOK, envelope{
			"success": false,
			"message": "Пользователь уже зарегистрирован в базе данных",
			"user":    existing,
		})
		return
	}
	if !errors.IsType(err, errors.ErrTypeNotFound) {
		h.fail(w, err, "Пользователь не найден")
		return
	}

	user := &storage.User{
		TelegramID: req.TelegramID,
		Username:   req.Username,
		Phone:      req.PhoneNumber,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		h.fail(w, err, "Пользователь не найден")
		return
	}

	h.respond(w, http.StatusCreated, envelope{
		"success": true,
		"message": "Пользователь успешно зарегистрирован в базе данных",
		"user":    user,
	})
}

// clientPayload is one CRM client record as the bot submits it.
type clientPayload struct {
	CRMID               int64   `json:"crm_id"`
	BranchID            int     `json:"branch_id"`
	Name                string  `json:"name"`
	Balance             float64 `json:"balance"`
	PaidLessonCount     int     `json:"paid_lesson_count"`
	IsStudy             bool    `json:"is_study"`
	HasScheduledLessons bool    `json:"has_scheduled_lessons"`
	Birthday            string  `json:"dob"` // YYYY-MM-DD, optional
}

// SyncUserClients upserts a user's CRM client records and recomputes the
// user's status from them.
func (h *Handlers) SyncUserClients(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TelegramID int64           `json:"telegram_id"`
		Clients    []clientPayload `json:"clients"`
	}
	if err := decodeBody(r, &req); err != nil || req.TelegramID == 0 {
		h.respondError(w, http.StatusBadRequest, "telegram_id обязателен")
		return
	}

	user, err := h.store.UserByTelegramID(r.Context(), req.TelegramID)
	if err != nil {
		h.fail(w, err, "Пользователь не найден")
		return
	}

	for _, payload := range req.Clients {
		client := &storage.Client{
			UserID:              user.ID,
			CRMID:               payload.CRMID,
			BranchID:            payload.BranchID,
			Name:                payload.Name,
			Balance:             payload.Balance,
			PaidLessonCount:     payload.PaidLessonCount,
			IsStudy:             payload.IsStudy,
			HasScheduledLessons: payload.HasScheduledLessons,
		}
		if payload.Birthday != "" {
			if dob, err := time.Parse("2006-01-02", payload.Birthday); err == nil {
				client.Birthday = &dob
			}
		}
		if err := h.store.UpsertClient(r.Context(), client); err != nil {
			h.fail(w, err, "Пользователь не найден")
			return
		}
	}

	clients, err := h.store.ClientsByUser(r.Context(), user.ID)
	if err != nil {
		h.fail(w, err, "Пользователь не найден")
		return
	}

	status := storage.DeriveStatus(clients)
	if status != user.Status {
		if err := h.store.UpdateUserStatus(r.Context(), user.ID, status); err != nil {
			h.fail(w, err, "Пользователь не найден")
			return
		}
	}

	h.respond(w, http.StatusOK, envelope{
		"success": true,
		"message": "Клиенты обновлены",
		"status":  status,
	})
}

// UserClients lists the stored CRM client records of one user.
func (h *Handlers) UserClients(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userFromPath(w, r)
	if !ok {
		return
	}

	clients, err := h.store.ClientsByUser(r.Context(), user.ID)
	if err != nil {
		h.fail(w, err, "У пользователя нет клиентов")
		return
	}
	if len(clients) == 0 {
		h.respondError(w, http.StatusNotFound, "У пользователя нет клиентов")
		return
	}

	h.respond(w, http.StatusOK, envelope{"success": true, "data": clients})
}

// UserBalances returns per-client lesson balances.
func (h *Handlers) UserBalances(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TelegramID int64 `json:"telegram_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.TelegramID == 0 {
		h.respondError(w, http.StatusBadRequest, "telegram_id обязателен")
		return
	}

	user, err := h.store.UserByTelegramID(r.Context(), req.TelegramID)
	if err != nil {
		h.fail(w, err, "Пользователь не найден")
		return
	}

	clients, err := h.store.ClientsByUser(r.Context(), user.ID)
	if err != nil {
		h.fail(w, err, "У пользователя нет клиентов")
		return
	}
	if len(clients) == 0 {
		h.respondError(w, http.StatusNotFound, "У пользователя нет клиентов")
		return
	}

	balances := make([]envelope, 0, len(clients))
	for _, client := range clients {
		balances = append(balances, envelope{
			"client_id":   client.ID,
			"client_name": client.Name,
			"balance":     client.Balance,
		})
	}

	h.respond(w, http.StatusOK, envelope{"success": true, "data": balances})
}

// UserGroupLinks collects Telegram invite links of the groups every client
// of the user studies in.
func (h *Handlers) UserGroupLinks(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userFromPath(w, r)
	if !ok {
		return
	}

	clients, err := h.store.ClientsByUser(r.Context(), user.ID)
	if err != nil {
		h.fail(w, err, "У пользователя нет клиентов")
		return
	}
	if len(clients) == 0 {
		h.respondError(w, http.StatusNotFound, "У пользователя нет клиентов")
		return
	}

	var links []string
	for _, client := range clients {
		clientLinks, err := h.gateway.TelegramGroupLinks(r.Context(), client.BranchID, int(client.CRMID))
		if err != nil {
			h.logger.Warn("group link lookup failed", logging.Err(err))
			continue
		}
		links = append(links, clientLinks...)
	}

	h.respond(w, http.StatusOK, envelope{"success": true, "data": links})
}

// UserCRMClients returns live CRM data for every stored client of a user.
func (h *Handlers) UserCRMClients(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userFromPath(w, r)
	if !ok {
		return
	}

	clients, err := h.store.ClientsByUser(r.Context(), user.ID)
	if err != nil {
		h.fail(w, err, "У пользователя нет клиентов")
		return
	}
	if len(clients) == 0 {
		h.respondError(w, http.StatusNotFound, "У пользователя нет клиентов")
		return
	}

	results := make([]envelope, 0, len(clients))
	for _, client := range clients {
		record, err := h.gateway.FindClientByID(r.Context(), client.BranchID, int(client.CRMID))
		if err != nil || record.Total == 0 {
			results = append(results, envelope{
				"client_crm_id": client.CRMID,
				"error":         "Не удалось получить данные",
			})
			continue
		}
		results = append(results, envelope{
			"client_crm_id": client.CRMID,
			"data":          record,
		})
	}

	h.respond(w, http.StatusOK, envelope{"success": true, "results": results})
}

func (h *Handlers) userFromPath(w http.ResponseWriter, r *http.Request) (*storage.User, bool) {
	telegramID, err := strconv.ParseInt(mux.Vars(r)["telegram_id"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "telegram_id обязателен")
		return nil, false
	}

	user, err := h.store.UserByTelegramID(r.Context(), telegramID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			h.respondError(w, http.StatusNotFound, "Пользователь не найден")
		} else {
			h.fail(w, err, "Пользователь не найден")
		}
		return nil, false
	}
	return user, true
}
