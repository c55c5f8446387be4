package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"schoolbus-backend/internal/database"
	"schoolbus-backend/internal/services"
	"schoolbus-backend/pkg/utils"
)

// Geocoder resolves a free-form address to coordinates
type Geocoder interface {
	GeocodeAddress(ctx context.Context, address string) (lat, lng float64, label string, err error)
}

type GeocodeStudentRequest struct {
	Address string `json:"address"`
}

// GeocodeStudent places a student's home stop from an address so the
// student can take part in route ordering. Without a body address the
// stored one is used.
// POST /api/admin/students/{studentId}/geocode
func GeocodeStudent(db *sqlx.DB, geocoder Geocoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if geocoder == nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "Geocoding is not configured")
			return
		}

		studentID := chi.URLParam(r, "studentId")

		var req GeocodeStudentRequest
		if r.ContentLength != 0 {
			if err := utils.DecodeAndValidate(r, &req); err != nil {
				utils.RespondError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		stop, err := database.GetStudentStop(r.Context(), db, studentID)
		if errors.Is(err, database.ErrStudentNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Student not found")
			return
		}
		if err != nil {
			log.Printf("❌ Failed to load student %s: %v", studentID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load student")
			return
		}

		address := strings.TrimSpace(req.Address)
		if address == "" && stop.Address != nil {
			address = strings.TrimSpace(*stop.Address)
		}
		if address == "" {
			utils.RespondError(w, http.StatusBadRequest, "address is required")
			return
		}

		lat, lng, label, err := geocoder.GeocodeAddress(r.Context(), address)
		if errors.Is(err, services.ErrNoGeocodeResult) {
			utils.RespondError(w, http.StatusUnprocessableEntity, "Address could not be located")
			return
		}
		if err != nil {
			log.Printf("❌ Geocoding failed for %s: %v", studentID, err)
			utils.RespondError(w, http.StatusBadGateway, "Geocoding failed")
			return
		}

		if err := database.UpdateStudentStop(r.Context(), db, studentID, address, lat, lng); err != nil {
			log.Printf("❌ Failed to save stop for %s: %v", studentID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to save location")
			return
		}

		moved, needsReview := services.CompareCoordinates(stop.Latitude, stop.Longitude, lat, lng)
		if needsReview {
			log.Printf("⚠️  Stop of %s moved %.2f km, flagged for review", studentID, moved)
		}

		utils.RespondJSON(w, http.StatusOK, services.GeocodeResult{
			StudentID:     studentID,
			Address:       address,
			Label:         label,
			OldLatitude:   stop.Latitude,
			OldLongitude:  stop.Longitude,
			NewLatitude:   lat,
			NewLongitude:  lng,
			DistanceMoved: moved,
			NeedsReview:   needsReview,
		})
	}
}
