// Package handlers exposes the Telegram-bot-facing REST API. Responses use
// a {success, message} envelope with human-readable Russian messages; raw
// CRM error bodies never reach the bot.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/common/logging"
	"crm-gateway/internal/crm"
	"crm-gateway/internal/storage"
)

// Gateway is the slice of the CRM client the handlers consume.
type Gateway interface {
	FindUserByPhone(ctx context.Context, phone string) (*crm.PageResult, error)
	CreateCustomer(ctx context.Context, draft crm.CustomerDraft) (json.RawMessage, error)
	ClientLessons(ctx context.Context, q crm.LessonQuery) (*crm.PageResult, error)
	FindClientByID(ctx context.Context, branchID, crmID int) (*crm.PageResult, error)
	TelegramGroupLinks(ctx context.Context, branchID, crmID int) ([]string, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health() error
}

type Handlers struct {
	gateway Gateway
	store   storage.Storage
	cache   HealthChecker
	logger  logging.Logger
}

func New(gateway Gateway, store storage.Storage, cache HealthChecker, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		gateway: gateway,
		store:   store,
		cache:   cache,
		logger:  logger.WithFields(logging.String("component", "api")),
	}
}

// Routes mounts every endpoint on a fresh router.
func (h *Handlers) Routes() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/crm/user/find", h.FindUserByPhone).Methods("POST")
	api.HandleFunc("/crm/user/register", h.RegisterUserInCRM).Methods("POST")
	api.HandleFunc("/crm/lessons", h.UserLessons).Methods("POST")

	api.HandleFunc("/users/find", h.FindUserInDB).Methods("POST")
	api.HandleFunc("/users/register", h.RegisterUserInDB).Methods("POST")
	api.HandleFunc("/users/clients/sync", h.SyncUserClients).Methods("POST")
	api.HandleFunc("/users/{telegram_id:[0-9]+}/clients", h.UserClients).Methods("GET")
	api.HandleFunc("/users/balances", h.UserBalances).Methods("POST")
	api.HandleFunc("/users/{telegram_id:[0-9]+}/group-links", h.UserGroupLinks).Methods("GET")
	api.HandleFunc("/users/{telegram_id:[0-9]+}/crm-clients", h.UserCRMClients).Methods("GET")

	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// envelope is the common response shape the bot expects.
type envelope map[string]interface{}

func (h *Handlers) respond(w http.ResponseWriter, status int, payload envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respond(w, status, envelope{"success": false, "message": message})
}

// fail maps a gateway/storage error onto an HTTP status without leaking
// internals to the bot.
func (h *Handlers) fail(w http.ResponseWriter, err error, notFoundMessage string) {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		h.respondError(w, http.StatusBadRequest, "Некорректный запрос")
	case errors.ErrTypeNotFound:
		h.respondError(w, http.StatusNotFound, notFoundMessage)
	default:
		h.logger.Error("request failed", err)
		h.respondError(w, http.StatusInternalServerError, "Внутренняя ошибка сервера")
	}
}

func decodeBody(r *http.Request, dest interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return errors.ValidationError("invalid JSON body")
	}
	return nil
}
