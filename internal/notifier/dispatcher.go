package notifier

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"schoolbus-backend/internal/database"
	"schoolbus-backend/internal/models"
)

const defaultBatchSize = 100

// ChangeHandler reacts to one passenger_status write
type ChangeHandler interface {
	HandleWrite(ctx context.Context, change models.StatusChange) error
}

// Dispatcher feeds committed passenger_status writes to a handler. It wakes
// on the trigger's NOTIFY and on a poll tick so events raised while the
// listener was reconnecting are still picked up.
type Dispatcher struct {
	db           *sqlx.DB
	dbURL        string
	handler      ChangeHandler
	pollInterval time.Duration
	batchSize    int
}

func NewDispatcher(db *sqlx.DB, dbURL string, handler ChangeHandler, pollInterval time.Duration) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Dispatcher{
		db:           db,
		dbURL:        dbURL,
		handler:      handler,
		pollInterval: pollInterval,
		batchSize:    defaultBatchSize,
	}
}

// Run blocks until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	listener := pq.NewListener(d.dbURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			log.Printf("⚠️  [CDC] Listener connection problem: %v", err)
		case pq.ListenerEventReconnected:
			log.Println("🔄 [CDC] Listener reconnected")
		}
	})
	defer listener.Close()

	if err := listener.Listen(database.StatusChangeChannel); err != nil {
		return err
	}
	log.Printf("✅ [CDC] Listening on %s (poll every %v)", database.StatusChangeChannel, d.pollInterval)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	// Catch up on anything written while we were down
	d.Drain(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 [CDC] Dispatcher stopped")
			return nil
		case <-listener.Notify:
			// Also fires with nil after a reconnect
			d.Drain(ctx)
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain processes pending change events until a batch comes back short
func (d *Dispatcher) Drain(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		processed, err := database.ProcessPendingChanges(ctx, d.db, d.batchSize, d.handler.HandleWrite)
		total += processed
		if err != nil {
			log.Printf("❌ [CDC] Failed to process change events: %v", err)
			break
		}
		if processed < d.batchSize {
			break
		}
	}
	return total
}
