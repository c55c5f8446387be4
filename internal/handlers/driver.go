package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"schoolbus-backend/internal/database"
	"schoolbus-backend/internal/middleware"
	"schoolbus-backend/internal/models"
	"schoolbus-backend/pkg/utils"
)

func optionalQuery(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
}

// GetDriverRoster returns the roster of a school, optionally scoped to a
// route, with the statuses recorded on a trip
// GET /api/driver/roster?school_id=&route_id=&trip_id=
func GetDriverRoster(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		schoolID := r.URL.Query().Get("school_id")
		if schoolID == "" {
			utils.RespondError(w, http.StatusBadRequest, "school_id is required")
			return
		}
		routeID := optionalQuery(r, "route_id")
		tripID := optionalQuery(r, "trip_id")

		students, err := database.GetRoster(r.Context(), db, schoolID, routeID, tripID)
		if err != nil {
			log.Printf("❌ Failed to load roster for %s: %v", schoolID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load roster")
			return
		}

		utils.RespondJSON(w, http.StatusOK, models.RosterResponse{
			Success:  true,
			SchoolID: schoolID,
			RouteID:  routeID,
			TripID:   tripID,
			Students: students,
		})
	}
}

// UploadScans ingests a batch of scans captured on a bus. Replaying a
// batch is safe: scans are keyed by id.
// POST /api/driver/scans
func UploadScans(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.GetUserFromContext(r)

		var req models.ScanUploadRequest
		if err := utils.DecodeAndValidate(r, &req); err != nil {
			log.Printf("❌ Rejected scan batch from %s: %v", user.UserID, err)
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := database.IngestScans(r.Context(), db, user.UserID, req.Scans)
		if err != nil {
			log.Printf("❌ Failed to ingest %d scans from %s: %v", len(req.Scans), user.UserID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to store scans")
			return
		}

		log.Printf("📥 Scans from %s: %d received, %d new, %d statuses updated",
			user.UserID, len(req.Scans), result.Stored, result.Updated)

		utils.RespondJSON(w, http.StatusOK, models.ScanUploadResponse{
			Success:  true,
			Received: len(req.Scans),
			Stored:   result.Stored,
			Updated:  result.Updated,
		})
	}
}

// SetPassengerStatus sets a student's status on a trip directly, e.g. to
// mark an absence the scanner never sees
// PUT /api/driver/trips/{tripId}/students/{studentId}/status
func SetPassengerStatus(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tripID := chi.URLParam(r, "tripId")
		studentID := chi.URLParam(r, "studentId")

		var req models.SetStatusRequest
		if err := utils.DecodeAndValidate(r, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		status := models.PassengerStatus{
			TripID:    tripID,
			StudentID: studentID,
			Status:    req.Status,
			UpdatedAt: time.Now().UnixMilli(),
		}
		err := database.SetPassengerStatus(r.Context(), db, &status)
		if errors.Is(err, database.ErrStudentNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Student not found")
			return
		}
		if err != nil {
			log.Printf("❌ Failed to set status of %s on %s: %v", studentID, tripID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to update status")
			return
		}

		log.Printf("✏️  %s on trip %s set to %s", studentID, tripID, req.Status)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"status":  status,
		})
	}
}
