package transfer

import "github.com/goatkit/tickettransfer/internal/models"

// DefaultPriority is sent when the ticket has none.
const DefaultPriority = "0"

// BuildPayload projects a snapshot into the helpdesk.ticket create values.
// partner_id and stage_id are only present when resolved.
func BuildPayload(snap models.TicketSnapshot, partnerID, stageID *int) map[string]any {
	priority := snap.Priority
	if priority == "" {
		priority = DefaultPriority
	}
	values := map[string]any{
		"name":        snap.Title,
		"description": snap.Description,
		"priority":    priority,
	}
	if partnerID != nil {
		values["partner_id"] = *partnerID
	}
	if stageID != nil {
		values["stage_id"] = *stageID
	}
	return values
}
