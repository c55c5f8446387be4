package handlers

import (
	"log"
	"net/http"

	"schoolbus-backend/internal/models"
	"schoolbus-backend/internal/services"
	"schoolbus-backend/pkg/utils"
)

type OptimizeRouteRequest struct {
	School   models.SchoolLocation    `json:"school"`
	Driver   *models.DriverPosition   `json:"driver,omitempty"`
	Students []models.StudentLocation `json:"students" validate:"required"`
}

// OptimizeRoute previews the stop order for a roster. Students without
// usable coordinates are left out of the stops but still counted.
// POST /api/driver/route/optimize
func OptimizeRoute(optimizer *services.RouteOptimizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OptimizeRouteRequest
		if err := utils.DecodeAndValidate(r, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		log.Printf("🚌 Optimizing route for %d students", len(req.Students))
		summary := optimizer.Summarize(req.Students, req.School, req.Driver)
		utils.RespondJSON(w, http.StatusOK, summary)
	}
}
