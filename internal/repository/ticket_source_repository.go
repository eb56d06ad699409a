package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goatkit/tickettransfer/internal/database"
	"github.com/goatkit/tickettransfer/internal/models"
)

// TicketSourceRepository reads helpdesk tickets and their sub-resources from
// the local store. The only writes are the transfer note and the stage move
// of a closed original.
type TicketSourceRepository struct {
	db database.DBTX
}

// NewTicketSourceRepository creates a new ticket source repository.
func NewTicketSourceRepository(db database.DBTX) *TicketSourceRepository {
	return &TicketSourceRepository{db: db}
}

// GetTicket loads a ticket with its requester, stage, assignee, type, company and tags.
func (r *TicketSourceRepository) GetTicket(ctx context.Context, id int) (*models.Ticket, error) {
	query := database.ConvertPlaceholders(`
		SELECT t.id, t.name, COALESCE(t.description, ''), t.priority, t.stage_id, t.team_id, t.create_date,
			t.partner_id, p.name, p.email, p.phone,
			COALESCE(u.name, ''), COALESCE(s.name, ''), COALESCE(tt.name, ''), COALESCE(co.name, '')
		FROM helpdesk_ticket t
		LEFT JOIN partner p ON p.id = t.partner_id
		LEFT JOIN users u ON u.id = t.user_id
		LEFT JOIN helpdesk_stage s ON s.id = t.stage_id
		LEFT JOIN ticket_type tt ON tt.id = t.ticket_type_id
		LEFT JOIN company co ON co.id = t.company_id
		WHERE t.id = ?
	`)

	t := &models.Ticket{}
	var (
		partnerID             *int
		pName, pEmail, pPhone sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Description, &t.Priority, &t.StageID, &t.TeamID, &t.CreateDate,
		&partnerID, &pName, &pEmail, &pPhone,
		&t.UserName, &t.StageName, &t.TicketTypeName, &t.CompanyName,
	)
	if err != nil {
		return nil, err
	}

	if partnerID != nil && pName.Valid {
		t.Partner = &models.PartnerDescriptor{
			ID: *partnerID, Name: pName.String, Email: pEmail.String, Phone: pPhone.String,
		}
	}

	tags, err := r.listTags(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	t.Tags = tags
	return t, nil
}

// ListMessages returns the conversation log oldest first.
func (r *TicketSourceRepository) ListMessages(ctx context.Context, ticketID int) ([]*models.TicketMessage, error) {
	query := database.ConvertPlaceholders(`
		SELECT id, ticket_id, COALESCE(body, ''), COALESCE(subject, ''), message_type,
			COALESCE(author_name, ''), message_date
		FROM ticket_message
		WHERE ticket_id = ?
		ORDER BY message_date ASC, id ASC
	`)

	rows, err := r.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.TicketMessage
	for rows.Next() {
		m := &models.TicketMessage{}
		if err := rows.Scan(&m.ID, &m.TicketID, &m.Body, &m.Subject, &m.MessageType, &m.AuthorName, &m.Date); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListFollowers returns the partners following a ticket.
func (r *TicketSourceRepository) ListFollowers(ctx context.Context, ticketID int) ([]*models.Follower, error) {
	query := database.ConvertPlaceholders(`
		SELECT p.id, p.name, COALESCE(p.email, '')
		FROM ticket_follower f
		JOIN partner p ON p.id = f.partner_id
		WHERE f.ticket_id = ?
		ORDER BY f.id
	`)

	rows, err := r.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followers []*models.Follower
	for rows.Next() {
		f := &models.Follower{}
		if err := rows.Scan(&f.PartnerID, &f.Name, &f.Email); err != nil {
			return nil, err
		}
		followers = append(followers, f)
	}
	return followers, rows.Err()
}

// ListAttachments returns the attachments linked to a ticket.
func (r *TicketSourceRepository) ListAttachments(ctx context.Context, ticketID int) ([]*models.Attachment, error) {
	query := database.ConvertPlaceholders(`
		SELECT id, name, COALESCE(datas, ''), COALESCE(mimetype, ''), COALESCE(description, '')
		FROM ticket_attachment
		WHERE ticket_id = ?
		ORDER BY id
	`)

	rows, err := r.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []*models.Attachment
	for rows.Next() {
		a := &models.Attachment{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Datas, &a.Mimetype, &a.Description); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

// PostNote appends a message to the ticket's conversation log.
func (r *TicketSourceRepository) PostNote(ctx context.Context, ticketID int, note *models.TicketMessage) error {
	if note.Date.IsZero() {
		note.Date = time.Now().UTC()
	}
	id, err := database.InsertReturningID(ctx, r.db, `
		INSERT INTO ticket_message (ticket_id, body, subject, message_type, author_name, message_date)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ticketID, note.Body, note.Subject, note.MessageType, note.AuthorName, note.Date,
	)
	if err != nil {
		return err
	}
	note.ID = int(id)
	note.TicketID = ticketID
	return nil
}

// FindClosingStage returns the first closing stage for the team, or nil when
// none is configured.
func (r *TicketSourceRepository) FindClosingStage(ctx context.Context, teamID *int) (*models.Stage, error) {
	var (
		query string
		args  []any
	)
	if teamID != nil {
		query = `
			SELECT s.id, s.name, s.sequence, s.is_close
			FROM helpdesk_stage s
			JOIN helpdesk_stage_team st ON st.stage_id = s.id
			WHERE s.is_close = ? AND st.team_id = ?
			ORDER BY s.sequence, s.id
			LIMIT 1`
		args = []any{true, *teamID}
	} else {
		query = `
			SELECT s.id, s.name, s.sequence, s.is_close
			FROM helpdesk_stage s
			WHERE s.is_close = ?
			ORDER BY s.sequence, s.id
			LIMIT 1`
		args = []any{true}
	}

	st := &models.Stage{}
	err := r.db.QueryRowContext(ctx, database.ConvertPlaceholders(query), args...).
		Scan(&st.ID, &st.Name, &st.Sequence, &st.IsClose)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// SetStage moves a ticket to another stage.
func (r *TicketSourceRepository) SetStage(ctx context.Context, ticketID, stageID int) error {
	query := database.ConvertPlaceholders(`
		UPDATE helpdesk_ticket SET stage_id = ?, write_date = ? WHERE id = ?
	`)
	result, err := r.db.ExecContext(ctx, query, stageID, time.Now().UTC(), ticketID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *TicketSourceRepository) listTags(ctx context.Context, ticketID int) ([]string, error) {
	query := database.ConvertPlaceholders(`
		SELECT g.name FROM ticket_tag tg
		JOIN tag g ON g.id = tg.tag_id
		WHERE tg.ticket_id = ?
		ORDER BY g.name
	`)
	rows, err := r.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}
