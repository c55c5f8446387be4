package agent

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"schoolbus-backend/internal/localstore"
	"schoolbus-backend/internal/models"
	"schoolbus-backend/internal/tracker"
	"schoolbus-backend/pkg/utils"
)

// Routes builds the loopback API used by the driver UI
func (a *Agent) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/scans", a.RecordScan())
		r.Get("/scans", a.ScanHistory())
		r.Post("/position", a.UpdatePosition())
		r.Get("/route", a.OptimizedRoute())
		r.Get("/route/summary", a.RouteSummary())
		r.Get("/roster", a.Roster())
		r.Get("/sync/status", a.SyncStatus())
		r.Post("/sync", a.SyncNow())
		r.Post("/reset", a.Reset())
	})

	return r
}

// RecordScan stores a badge scan locally and nudges the scheduler
// POST /api/scans
func (a *Agent) RecordScan() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			StudentID   string  `json:"student_id"`
			StudentName string  `json:"student_name"`
			Action      string  `json:"action"`
			TripID      *string `json:"trip_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		tripID := req.TripID
		if tripID == nil {
			tripID = a.cfg.TripID
		}

		scanID, err := a.store.RecordScan(r.Context(), req.StudentID, req.StudentName, req.Action, tripID)
		if errors.Is(err, localstore.ErrInvalidAction) || errors.Is(err, localstore.ErrMissingStudent) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			log.Printf("❌ Error recording scan: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to record scan")
			return
		}

		a.scheduler.Trigger(ReasonScan)

		utils.RespondJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"scan_id": scanID,
			"status":  models.StatusForAction(req.Action),
		})
	}
}

// ScanHistory lists scans by student or trip
// GET /api/scans?student_id= | ?trip_id=
func (a *Agent) ScanHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var scans []models.ScanEvent
		var err error

		switch {
		case r.URL.Query().Get("student_id") != "":
			scans, err = a.store.ScansByStudent(r.Context(), r.URL.Query().Get("student_id"))
		case r.URL.Query().Get("trip_id") != "":
			scans, err = a.store.ScansByTrip(r.Context(), r.URL.Query().Get("trip_id"))
		default:
			utils.RespondError(w, http.StatusBadRequest, "student_id or trip_id is required")
			return
		}
		if err != nil {
			log.Printf("❌ Error loading scan history: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load scan history")
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"scans":   scans,
		})
	}
}

// UpdatePosition records the latest GPS fix
// POST /api/position
func (a *Agent) UpdatePosition() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var pos models.DriverPosition
		if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := a.tracker.Update(pos); err != nil {
			if errors.Is(err, tracker.ErrInvalidPosition) {
				utils.RespondError(w, http.StatusBadRequest, "Invalid coordinates")
				return
			}
			utils.RespondError(w, http.StatusInternalServerError, "Failed to update position")
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}

// OptimizedRoute recomputes the stop order from the cached roster
// GET /api/route
func (a *Agent) OptimizedRoute() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		students, err := a.rosterLocations(r.Context())
		if err != nil {
			log.Printf("❌ Error loading roster: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load roster")
			return
		}

		driver, _ := a.tracker.Current()
		stops := a.optimizer.Optimize(students, a.cfg.School, driver)

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"stops":   stops,
			"driver":  driver,
		})
	}
}

// RouteSummary returns stops with total distance, duration and counts
// GET /api/route/summary
func (a *Agent) RouteSummary() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		students, err := a.rosterLocations(r.Context())
		if err != nil {
			log.Printf("❌ Error loading roster: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load roster")
			return
		}

		driver, _ := a.tracker.Current()
		utils.RespondJSON(w, http.StatusOK, a.optimizer.Summarize(students, a.cfg.School, driver))
	}
}

// Roster returns the cached roster
// GET /api/roster
func (a *Agent) Roster() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		students, err := a.store.Students(r.Context())
		if err != nil {
			log.Printf("❌ Error loading roster: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load roster")
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"students": students,
		})
	}
}

// SyncStatus reports cache stats plus the scheduler state
// GET /api/sync/status
func (a *Agent) SyncStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := a.store.Stats(r.Context())
		if err != nil {
			log.Printf("❌ Error reading cache stats: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to read cache stats")
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"cache":   stats,
			"sync":    a.scheduler.Status(),
		})
	}
}

// SyncNow runs a pass and waits for it
// POST /api/sync
func (a *Agent) SyncNow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := a.scheduler.SyncNow(r.Context(), ReasonManual)
		if err != nil {
			utils.RespondJSON(w, http.StatusBadGateway, map[string]interface{}{
				"success": false,
				"error":   err.Error(),
				"result":  result,
			})
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"result":  result,
		})
	}
}

// Reset wipes the local cache on logout
// POST /api/reset
func (a *Agent) Reset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.store.Clear(r.Context()); err != nil {
			log.Printf("❌ Error clearing cache: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to clear cache")
			return
		}
		a.tracker.Reset()

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}
