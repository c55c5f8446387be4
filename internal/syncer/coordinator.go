// Package syncer reconciles the local cache with the server: pending scans go
// up as one batch, the roster comes down and replaces the cached copy.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/singleflight"

	"schoolbus-backend/internal/localstore"
	"schoolbus-backend/internal/models"
)

// Roster is the result of a roster download
type Roster struct {
	SchoolID string
	RouteID  *string
	Students []models.Student
}

// UploadFunc sends a batch of scans. A nil error means the whole batch
// was committed remotely.
type UploadFunc func(ctx context.Context, scans []models.ScanEvent) error

// DownloadFunc fetches the current roster
type DownloadFunc func(ctx context.Context) (Roster, error)

// Result counts what one pass moved
type Result struct {
	Uploaded   int `json:"uploaded"`
	Downloaded int `json:"downloaded"`
}

var (
	ErrUpload   = errors.New("scan upload failed")
	ErrDownload = errors.New("roster download failed")
)

// Store is the part of the local cache the coordinator needs
type Store interface {
	UnsyncedScans(ctx context.Context) ([]models.ScanEvent, error)
	MarkSynced(ctx context.Context, ids []string) error
	CacheStudents(ctx context.Context, students []models.Student, schoolID string, routeID *string) error
}

var _ Store = (*localstore.Store)(nil)

// Coordinator runs sync passes. It never schedules itself or retries;
// callers decide when to call Sync and how to back off.
type Coordinator struct {
	store    Store
	inflight singleflight.Group
}

// NewCoordinator creates a coordinator over the given store
func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{store: store}
}

// Sync uploads pending scans, then refreshes the roster. The two steps are
// independent: a failure in one does not undo the other, and both errors are
// returned joined. Calls made while a pass is running wait for that pass and
// share its result instead of reading the same batch twice.
func (c *Coordinator) Sync(ctx context.Context, upload UploadFunc, download DownloadFunc) (Result, error) {
	v, err, shared := c.inflight.Do("sync", func() (interface{}, error) {
		return c.run(ctx, upload, download)
	})
	if shared {
		log.Println("🔄 Sync already in flight, joined existing pass")
	}
	res, _ := v.(Result)
	return res, err
}

func (c *Coordinator) run(ctx context.Context, upload UploadFunc, download DownloadFunc) (Result, error) {
	var result Result
	var errs []error

	uploaded, err := c.uploadPending(ctx, upload)
	if err != nil {
		log.Printf("⚠️  Sync upload step failed: %v", err)
		errs = append(errs, err)
	}
	result.Uploaded = uploaded

	downloaded, err := c.refreshRoster(ctx, download)
	if err != nil {
		log.Printf("⚠️  Sync download step failed: %v", err)
		errs = append(errs, err)
	}
	result.Downloaded = downloaded

	if len(errs) == 0 {
		log.Printf("✅ Sync complete: %d uploaded, %d downloaded", result.Uploaded, result.Downloaded)
	}
	return result, errors.Join(errs...)
}

// uploadPending hands every unsynced scan to upload and marks them synced
// only after the whole set succeeded
func (c *Coordinator) uploadPending(ctx context.Context, upload UploadFunc) (int, error) {
	if upload == nil {
		return 0, nil
	}

	pending, err := c.store.UnsyncedScans(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	log.Printf("📤 Uploading %d pending scan(s)", len(pending))
	if err := upload(ctx, pending); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	ids := make([]string, len(pending))
	for i, scan := range pending {
		ids[i] = scan.ID
	}

	// If this fails the batch is uploaded again next pass; the server
	// ignores scan ids it has already stored
	if err := c.store.MarkSynced(ctx, ids); err != nil {
		return 0, fmt.Errorf("%w: uploaded but not marked synced: %w", ErrUpload, err)
	}

	return len(pending), nil
}

func (c *Coordinator) refreshRoster(ctx context.Context, download DownloadFunc) (int, error) {
	if download == nil {
		return 0, nil
	}

	roster, err := download(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDownload, err)
	}

	if err := c.store.CacheStudents(ctx, roster.Students, roster.SchoolID, roster.RouteID); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDownload, err)
	}

	return len(roster.Students), nil
}
