package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/tickettransfer/internal/database"
	"github.com/goatkit/tickettransfer/internal/models"
)

const transferHistorySelect = `
	SELECT h.id, h.run_id, h.ticket_id, h.config_id, COALESCE(c.name, '') AS config_name,
		h.transfer_date, h.transferred_by, h.remote_ticket_id, h.remote_ticket_url,
		h.status, COALESCE(h.notes, '') AS notes,
		h.messages_transferred, h.followers_transferred, h.attachments_transferred
	FROM transfer_history h
	LEFT JOIN transfer_config c ON c.id = h.config_id`

// TransferHistoryRepository persists the append-only transfer ledger.
// There are deliberately no update or delete methods.
type TransferHistoryRepository struct {
	db database.DBTX
}

// NewTransferHistoryRepository creates a new transfer history repository.
func NewTransferHistoryRepository(db database.DBTX) *TransferHistoryRepository {
	return &TransferHistoryRepository{db: db}
}

// Create appends a history row and returns its id.
func (r *TransferHistoryRepository) Create(ctx context.Context, h *models.TransferHistory) (int64, error) {
	if !h.Status.Valid() {
		return 0, fmt.Errorf("invalid transfer status %q", h.Status)
	}

	id, err := database.InsertReturningID(ctx, r.db, `
		INSERT INTO transfer_history (run_id, ticket_id, config_id, transfer_date, transferred_by,
			remote_ticket_id, remote_ticket_url, status, notes,
			messages_transferred, followers_transferred, attachments_transferred)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.RunID, h.TicketID, h.ConfigID, h.TransferDate, h.TransferredBy,
		h.RemoteTicketID, h.RemoteTicketURL, string(h.Status), h.Notes,
		h.MessagesTransferred, h.FollowersTransferred, h.AttachmentsTransferred,
	)
	if err != nil {
		return 0, err
	}
	h.ID = id
	return id, nil
}

// GetByID retrieves a single history row.
func (r *TransferHistoryRepository) GetByID(ctx context.Context, id int64) (*models.TransferHistory, error) {
	rows, err := r.db.QueryContext(ctx, database.ConvertPlaceholders(transferHistorySelect+` WHERE h.id = ?`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.TransferHistory
	if err := sqlx.StructScan(rows, &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errNotFound("transfer history", id)
	}
	return entries[0], nil
}

// ListByTicket returns all runs for a ticket, newest first.
func (r *TransferHistoryRepository) ListByTicket(ctx context.Context, ticketID int) ([]*models.TransferHistory, error) {
	query := database.ConvertPlaceholders(transferHistorySelect + `
		WHERE h.ticket_id = ?
		ORDER BY h.transfer_date DESC, h.id DESC`)

	rows, err := r.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.TransferHistory
	if err := sqlx.StructScan(rows, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListRecent returns the latest runs across all tickets.
func (r *TransferHistoryRepository) ListRecent(ctx context.Context, limit int) ([]*models.TransferHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	query := database.ConvertPlaceholders(transferHistorySelect + `
		ORDER BY h.transfer_date DESC, h.id DESC
		LIMIT ?`)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.TransferHistory
	if err := sqlx.StructScan(rows, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountByTicket returns how many times a ticket has been transferred.
func (r *TransferHistoryRepository) CountByTicket(ctx context.Context, ticketID int) (int, error) {
	query := database.ConvertPlaceholders(`SELECT COUNT(*) FROM transfer_history WHERE ticket_id = ?`)
	var n int
	err := r.db.QueryRowContext(ctx, query, ticketID).Scan(&n)
	return n, err
}
