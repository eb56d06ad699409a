package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goatkit/tickettransfer/internal/models"
)

// Store persists ledger rows. TransferHistoryRepository implements it.
type Store interface {
	Create(ctx context.Context, h *models.TransferHistory) (int64, error)
}

// Entry is the outcome of one transfer run as handed to the ledger.
type Entry struct {
	RunID          string
	TicketID       int
	ConfigID       int
	ActorID        int
	BaseURL        string
	RemoteTicketID *int
	Status         models.TransferStatus
	Notes          string
	Messages       int
	Followers      int
	Attachments    int
}

// Ledger writes exactly one history row per transfer run.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates a ledger on top of store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Record builds and persists the row for e. The remote URL is derived here
// so it always reflects the base URL at write time.
func (l *Ledger) Record(ctx context.Context, e Entry) (*models.TransferHistory, error) {
	h := &models.TransferHistory{
		RunID:                  e.RunID,
		TicketID:               e.TicketID,
		ConfigID:               e.ConfigID,
		TransferDate:           l.now(),
		TransferredBy:          e.ActorID,
		RemoteTicketID:         e.RemoteTicketID,
		Status:                 e.Status,
		Notes:                  e.Notes,
		MessagesTransferred:    e.Messages,
		FollowersTransferred:   e.Followers,
		AttachmentsTransferred: e.Attachments,
	}
	if e.RemoteTicketID != nil {
		url := RemoteTicketURL(e.BaseURL, *e.RemoteTicketID)
		h.RemoteTicketURL = &url
	}

	if _, err := l.store.Create(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to record transfer history: %w", err)
	}
	return h, nil
}

// RemoteTicketURL links to the ticket form view on the destination.
func RemoteTicketURL(baseURL string, remoteID int) string {
	return fmt.Sprintf("%s/web#id=%d&model=helpdesk.ticket&view_type=form", strings.TrimRight(baseURL, "/"), remoteID)
}

// FailureNotes appends the error to the operator annotation.
func FailureNotes(annotation string, err error) string {
	return fmt.Sprintf("%s\n\nError: %v", annotation, err)
}
