package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"schoolbus-backend/internal/database"
	"schoolbus-backend/internal/middleware"
	"schoolbus-backend/pkg/utils"
)

type RegisterTokenRequest struct {
	Token      string `json:"token" validate:"required"`
	DeviceType string `json:"device_type" validate:"required,oneof=ios android web"`
}

// RegisterFCMToken stores the caller's device token for push delivery
// POST /api/fcm-token
func RegisterFCMToken(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.GetUserFromContext(r)

		var req RegisterTokenRequest
		if err := utils.DecodeAndValidate(r, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := database.RegisterFCMToken(r.Context(), db, user.UserID, req.Token, req.DeviceType); err != nil {
			log.Printf("❌ Failed to save FCM token for %s: %v", user.UserID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to save token")
			return
		}

		log.Printf("✅ FCM token registered for %s (%s)", user.UserID, req.DeviceType)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}

// ListNotifications returns the caller's inbox, newest first
// GET /api/parent/notifications?unread=true&limit=50
func ListNotifications(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.GetUserFromContext(r)

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 200 {
				utils.RespondError(w, http.StatusBadRequest, "limit must be between 1 and 200")
				return
			}
			limit = n
		}
		unreadOnly := r.URL.Query().Get("unread") == "true"

		notifications, err := database.ListNotifications(r.Context(), db, user.UserID, unreadOnly, limit)
		if err != nil {
			log.Printf("❌ Failed to list notifications for %s: %v", user.UserID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load notifications")
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":       true,
			"notifications": notifications,
		})
	}
}

// MarkNotificationRead flags one of the caller's inbox records as read
// PATCH /api/parent/notifications/{id}/read
func MarkNotificationRead(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.GetUserFromContext(r)
		id := chi.URLParam(r, "id")

		ok, err := database.MarkNotificationRead(r.Context(), db, user.UserID, id)
		if err != nil {
			log.Printf("❌ Failed to mark notification %s read: %v", id, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to update notification")
			return
		}
		if !ok {
			utils.RespondError(w, http.StatusNotFound, "Notification not found")
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}
