package handlers

import (
	"net/http"

	"positionbot/internal/service"
)

// NotificationHandler отвечает за журнал уведомлений
//
// Endpoints:
// - GET /api/v1/notifications?user_id=N - последние уведомления
// - GET /api/v1/notifications?user_id=N&limit=50 - с ограничением количества
type NotificationHandler struct {
	notifications *service.NotificationService
}

// NewNotificationHandler создает новый NotificationHandler
func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// GetNotifications возвращает последние уведомления пользователя
//
// GET /api/v1/notifications?user_id=N&limit=100
//
// HTTP коды:
// - 200 OK: массив уведомлений (новые сверху)
// - 400 Bad Request: нет user_id
// - 500 Internal Server Error: ошибка БД
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := limitFromRequest(r, 100)

	notifications, err := h.notifications.GetNotifications(r.Context(), userID, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get notifications: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"total":         len(notifications),
	})
}
