// Package history records transfer runs and formats them for display.
package history

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/goatkit/tickettransfer/internal/models"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	notesPolicy  = bluemonday.UGCPolicy()
)

// NoteSubject is the subject of the note posted on a transferred ticket.
const NoteSubject = "Ticket Transferred"

// NoteData feeds TransferNoteHTML.
type NoteData struct {
	ConfigName     string
	RemoteTicketID int
	RemoteURL      string
	Messages       int
	Followers      int
	Attachments    int
	Annotation     string
}

// TransferNoteHTML renders the note posted on the source ticket after a
// successful transfer. Operator-supplied text is sanitized.
func TransferNoteHTML(d NoteData) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<p>Ticket transferred to: <a href="%s" target="_blank">%s</a></p>`,
		html.EscapeString(d.RemoteURL), strictPolicy.Sanitize(d.ConfigName))
	fmt.Fprintf(&b, "<p>Remote Ticket ID: %d</p>", d.RemoteTicketID)
	fmt.Fprintf(&b, "<p>Messages transferred: %d</p>", d.Messages)
	fmt.Fprintf(&b, "<p>Followers transferred: %d</p>", d.Followers)
	fmt.Fprintf(&b, "<p>Attachments transferred: %d</p>", d.Attachments)
	if note := strings.TrimSpace(d.Annotation); note != "" {
		fmt.Fprintf(&b, "<p>Notes: %s</p>", notesPolicy.Sanitize(note))
	}
	return b.String()
}

// StatusLabel returns the display label for a status.
func StatusLabel(s models.TransferStatus) string {
	switch s {
	case models.TransferStatusSuccess:
		return "Success"
	case models.TransferStatusFailed:
		return "Failed"
	case models.TransferStatusPartial:
		return "Partial"
	default:
		return string(s)
	}
}

// Summary renders a one-line description of a ledger row.
func Summary(h *models.TransferHistory) string {
	target := strings.TrimSpace(h.ConfigName)
	if target == "" {
		target = fmt.Sprintf("config #%d", h.ConfigID)
	}

	if h.Status == models.TransferStatusFailed {
		reason := failureReason(h.Notes)
		if reason == "" {
			return fmt.Sprintf("Transfer to %s failed", target)
		}
		return fmt.Sprintf("Transfer to %s failed: %s", target, reason)
	}

	var b strings.Builder
	b.WriteString("Transferred to ")
	b.WriteString(target)
	if h.RemoteTicketID != nil {
		fmt.Fprintf(&b, " (#%d)", *h.RemoteTicketID)
	}

	details := []string{
		plural(h.MessagesTransferred, "message"),
		plural(h.FollowersTransferred, "follower"),
		plural(h.AttachmentsTransferred, "attachment"),
	}
	b.WriteString(" • ")
	b.WriteString(strings.Join(details, " • "))
	return b.String()
}

func failureReason(notes string) string {
	if idx := strings.LastIndex(notes, "Error: "); idx >= 0 {
		return strings.TrimSpace(notes[idx+len("Error: "):])
	}
	return strings.TrimSpace(notes)
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
