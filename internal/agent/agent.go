// Package agent wires the on-bus components together: the local cache, the
// sync coordinator and its scheduler, the GPS tracker and the route
// optimizer, behind a loopback HTTP API for the driver UI.
package agent

import (
	"context"

	"schoolbus-backend/internal/localstore"
	"schoolbus-backend/internal/models"
	"schoolbus-backend/internal/remote"
	"schoolbus-backend/internal/services"
	"schoolbus-backend/internal/syncer"
	"schoolbus-backend/internal/tracker"
)

// Agent owns every on-bus component for the lifetime of the process
type Agent struct {
	cfg       *Config
	store     *localstore.Store
	tracker   *tracker.PositionTracker
	optimizer *services.RouteOptimizer
	coord     *syncer.Coordinator
	client    *remote.Client
	scheduler *Scheduler
}

// New assembles an agent around an opened store and a server client
func New(cfg *Config, store *localstore.Store, client *remote.Client, positions *tracker.PositionTracker) *Agent {
	a := &Agent{
		cfg:       cfg,
		store:     store,
		tracker:   positions,
		optimizer: services.NewRouteOptimizer(),
		coord:     syncer.NewCoordinator(store),
		client:    client,
	}

	a.scheduler = NewScheduler(a.syncOnce, client.Ping, SchedulerConfig{
		SyncInterval:     cfg.SyncInterval,
		ProbeInterval:    cfg.ProbeInterval,
		RetryInitial:     cfg.RetryInitial,
		RetryMaxInterval: cfg.RetryMaxInterval,
	})

	return a
}

// Scheduler exposes the sync scheduler for lifecycle management
func (a *Agent) Scheduler() *Scheduler {
	return a.scheduler
}

func (a *Agent) syncOnce(ctx context.Context) (syncer.Result, error) {
	return a.coord.Sync(ctx, a.client.UploadScans, a.downloadRoster)
}

func (a *Agent) downloadRoster(ctx context.Context) (syncer.Roster, error) {
	roster, err := a.client.DownloadRoster(ctx, a.cfg.SchoolID, a.cfg.RouteID, a.cfg.TripID)
	if err != nil {
		return syncer.Roster{}, err
	}
	if roster.SchoolID == "" {
		roster.SchoolID = a.cfg.SchoolID
	}
	if roster.RouteID == nil {
		roster.RouteID = a.cfg.RouteID
	}
	return roster, nil
}

// rosterLocations loads the cached roster in optimizer form
func (a *Agent) rosterLocations(ctx context.Context) ([]models.StudentLocation, error) {
	var students []models.Student
	var err error
	if a.cfg.RouteID != nil {
		students, err = a.store.StudentsByRoute(ctx, *a.cfg.RouteID)
	} else {
		students, err = a.store.StudentsBySchool(ctx, a.cfg.SchoolID)
	}
	if err != nil {
		return nil, err
	}

	locations := make([]models.StudentLocation, len(students))
	for i := range students {
		locations[i] = students[i].ToStudentLocation()
	}
	return locations, nil
}
