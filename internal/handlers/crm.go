package handlers

import (
	"net/http"

	"crm-gateway/internal/crm"
)

// FindUserByPhone answers the bot's "is this parent known to the CRM" check.
func (h *Handlers) FindUserByPhone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phone_number"`
	}
	if err := decodeBody(r, &req); err != nil || req.PhoneNumber == "" {
		h.respondError(w, http.StatusBadRequest, "Номер телефона обязателен")
		return
	}

	result, err := h.gateway.FindUserByPhone(r.Context(), req.PhoneNumber)
	if err != nil {
		h.fail(w, err, "Пользователь не найден в CRM")
		return
	}

	if result.Total == 0 {
		h.respond(w, http.StatusNotFound, envelope{
			"success": false,
			"message": "Пользователь не найден в CRM",
			"user":    nil,
		})
		return
	}

	h.respond(w, http.StatusOK, envelope{
		"success": true,
		"message": "Пользователь найден в CRM",
		"user":    result,
	})
}

// RegisterUserInCRM creates a new lead from the bot's contact data.
func (h *Handlers) RegisterUserInCRM(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		Username    string `json:"username"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Не все обязательные поля указаны")
		return
	}
	if req.FirstName == "" || req.LastName == "" || req.Username == "" || req.PhoneNumber == "" {
		h.respondError(w, http.StatusBadRequest, "Не все обязательные поля указаны")
		return
	}

	result, err := h.gateway.CreateCustomer(r.Context(), crm.CustomerDraft{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		Phone:     req.PhoneNumber,
	})
	if err != nil {
		h.logger.Error("CRM registration failed", err)
		h.respondError(w, http.StatusBadRequest, "Ошибка при регистрации в CRM")
		return
	}

	h.respond(w, http.StatusCreated, envelope{
		"success": true,
		"message": "Пользователь успешно зарегистрирован в CRM",
		"data":    result,
	})
}

// UserLessons returns a customer's lessons for one branch.
func (h *Handlers) UserLessons(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserCRMID    int `json:"user_crm_id"`
		BranchID     int `json:"branch_id"`
		LessonStatus int `json:"lesson_status"`
		LessonType   int `json:"lesson_type"`
	}
	if err := decodeBody(r, &req); err != nil || req.UserCRMID == 0 || req.BranchID == 0 {
		h.respondError(w, http.StatusBadRequest, "Необходимо указать user_crm_id и branch_id")
		return
	}

	lessons, err := h.gateway.ClientLessons(r.Context(), crm.LessonQuery{
		CustomerID: req.UserCRMID,
		BranchID:   req.BranchID,
		Status:     req.LessonStatus,
		Type:       req.LessonType,
	})
	if err != nil {
		h.fail(w, err, "Уроки не найдены")
		return
	}

	if lessons.Total == 0 {
		h.respondError(w, http.StatusNotFound, "Уроки не найдены")
		return
	}

	h.respond(w, http.StatusOK, envelope{"success": true, "data": lessons})
}
