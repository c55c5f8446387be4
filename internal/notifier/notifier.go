package notifier

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"schoolbus-backend/internal/models"
)

// StudentLookup loads the student row used to resolve a display name
type StudentLookup interface {
	StudentRecord(ctx context.Context, studentID string) (*models.StudentRecord, error)
}

// RecipientResolver lists the parents linked to a student within a school
type RecipientResolver interface {
	ParentIDs(ctx context.Context, studentID, schoolID string) ([]string, error)
}

// InboxWriter stores all inbox records of one transition atomically
type InboxWriter interface {
	InsertNotifications(ctx context.Context, notifications []models.Notification) error
}

// TokenStore holds the push tokens registered per user
type TokenStore interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
	DeleteToken(ctx context.Context, token string) error
}

// PushSender delivers one notification to a set of device tokens and
// reports the tokens that are no longer registered
type PushSender interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) ([]string, error)
}

// LiveBroadcaster pushes an event to a connected user
type LiveBroadcaster interface {
	BroadcastToUser(userID string, data interface{})
}

// Notifier turns passenger status transitions into parent notifications
type Notifier struct {
	students StudentLookup
	parents  RecipientResolver
	inbox    InboxWriter
	tokens   TokenStore
	push     PushSender      // nil disables push
	live     LiveBroadcaster // nil disables live events
	newID    func() string
	now      func() time.Time
}

// Option customizes a Notifier
type Option func(*Notifier)

// WithPush enables push delivery through sender
func WithPush(tokens TokenStore, sender PushSender) Option {
	return func(n *Notifier) {
		n.tokens = tokens
		n.push = sender
	}
}

// WithLive enables websocket inbox events
func WithLive(live LiveBroadcaster) Option {
	return func(n *Notifier) { n.live = live }
}

// WithClock overrides the clock used for created_at
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// WithIDs overrides inbox record id generation
func WithIDs(newID func() string) Option {
	return func(n *Notifier) { n.newID = newID }
}

func New(students StudentLookup, parents RecipientResolver, inbox InboxWriter, opts ...Option) *Notifier {
	n := &Notifier{
		students: students,
		parents:  parents,
		inbox:    inbox,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// TitleForStatus returns the notification title for a passenger status
func TitleForStatus(status string) string {
	switch status {
	case models.StatusBoarded:
		return "On Bus 🚌"
	case models.StatusDropped:
		return "Dropped Off 🏠"
	case models.StatusAbsent:
		return "Marked Absent"
	default:
		return "Update"
	}
}

// BodyFor returns the notification body for a student and status
func BodyFor(studentName, status string) string {
	return fmt.Sprintf("%s is %s.", studentName, status)
}

// ShouldNotify reports whether a write is a status transition parents hear about
func ShouldNotify(change models.StatusChange) bool {
	after := change.After
	if after == nil {
		return false
	}
	if after.StudentID == "" || after.SchoolID == "" {
		return false
	}
	if !models.IsTerminalStatus(after.Status) {
		return false
	}
	if change.Before != nil && change.Before.Status == after.Status {
		return false
	}
	return true
}

// HandleWrite reacts to one committed passenger_status write. The returned
// error covers recipient lookup and the inbox batch only, so a caller can
// redeliver the write; push and live delivery are best effort.
func (n *Notifier) HandleWrite(ctx context.Context, change models.StatusChange) error {
	if !ShouldNotify(change) {
		return nil
	}
	after := change.After

	tripID := after.TripID
	if tripID == "" {
		tripID = change.TripID
	}

	studentName := n.studentName(ctx, after.StudentID)
	title := TitleForStatus(after.Status)
	body := BodyFor(studentName, after.Status)

	parentIDs, err := n.parents.ParentIDs(ctx, after.StudentID, after.SchoolID)
	if err != nil {
		return fmt.Errorf("resolve parents of %s: %w", after.StudentID, err)
	}
	if len(parentIDs) == 0 {
		return nil
	}

	createdAt := n.now().UnixMilli()
	data := models.NotificationData{
		Kind:        models.NotificationKindPassengerStatus,
		Status:      after.Status,
		StudentID:   after.StudentID,
		StudentName: studentName,
		TripID:      tripID,
		SchoolID:    after.SchoolID,
	}

	batch := make([]models.Notification, 0, len(parentIDs))
	for _, parentID := range parentIDs {
		batch = append(batch, models.Notification{
			ID:        n.newID(),
			ParentID:  parentID,
			Title:     title,
			Body:      body,
			CreatedAt: createdAt,
			Data:      data,
		})
	}

	if err := n.inbox.InsertNotifications(ctx, batch); err != nil {
		return fmt.Errorf("write inbox for %s: %w", after.StudentID, err)
	}
	log.Printf("📤 %s → %d parent(s): %s", after.StudentID, len(batch), title)

	for i := range batch {
		n.sendPush(ctx, batch[i])
		n.sendLive(batch[i])
	}
	return nil
}

func (n *Notifier) studentName(ctx context.Context, studentID string) string {
	if n.students == nil {
		return studentID
	}
	record, err := n.students.StudentRecord(ctx, studentID)
	if err != nil || record == nil {
		if err != nil {
			log.Printf("⚠️  Student lookup for %s failed, using id: %v", studentID, err)
		}
		return studentID
	}
	return record.ResolveName()
}

func (n *Notifier) sendPush(ctx context.Context, notification models.Notification) {
	if n.push == nil || n.tokens == nil {
		return
	}

	tokens, err := n.tokens.DeviceTokens(ctx, notification.ParentID)
	if err != nil {
		log.Printf("⚠️  Could not load push tokens for %s: %v", notification.ParentID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	stale, err := n.push.SendMulticast(ctx, tokens, notification.Title, notification.Body, map[string]string{
		"kind": models.NotificationKindPassengerStatus,
	})
	if err != nil {
		log.Printf("⚠️  Push to %s failed: %v", notification.ParentID, err)
		return
	}

	for _, token := range stale {
		if err := n.tokens.DeleteToken(ctx, token); err != nil {
			log.Printf("⚠️  Could not drop stale token: %v", err)
		}
	}
}

func (n *Notifier) sendLive(notification models.Notification) {
	if n.live == nil {
		return
	}
	n.live.BroadcastToUser(notification.ParentID, map[string]interface{}{
		"type": "passenger_status",
		"data": notification,
	})
}
