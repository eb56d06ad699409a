package models

import "time"

// PartnerDescriptor identifies a contact by name, email and phone.
// ID is the local partner id when the descriptor came from the source store.
type PartnerDescriptor struct {
	ID    int    `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Empty reports whether the descriptor carries neither email nor name.
func (p *PartnerDescriptor) Empty() bool {
	return p == nil || (p.Email == "" && p.Name == "")
}

// Ticket is the source-side helpdesk ticket as loaded from helpdesk_ticket.
type Ticket struct {
	ID             int                `json:"id"`
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	Priority       string             `json:"priority"`
	Partner        *PartnerDescriptor `json:"partner,omitempty"`
	UserName       string             `json:"user_name,omitempty"`
	StageID        *int               `json:"stage_id,omitempty"`
	StageName      string             `json:"stage_name,omitempty"`
	TeamID         *int               `json:"team_id,omitempty"`
	TicketTypeName string             `json:"ticket_type,omitempty"`
	CompanyName    string             `json:"company_name,omitempty"`
	Tags           []string           `json:"tags,omitempty"`
	CreateDate     time.Time          `json:"create_date"`
}

// TicketMessage is one entry of a ticket's conversation log.
type TicketMessage struct {
	ID          int       `json:"id"`
	TicketID    int       `json:"ticket_id"`
	Body        string    `json:"body"`
	Subject     string    `json:"subject,omitempty"`
	MessageType string    `json:"message_type"`
	AuthorName  string    `json:"author_name,omitempty"`
	Date        time.Time `json:"date"`
}

// Follower is a partner subscribed to a ticket.
type Follower struct {
	PartnerID int    `json:"partner_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
}

// Attachment holds base64 encoded file content linked to a ticket.
type Attachment struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Datas       string `json:"-"`
	Mimetype    string `json:"mimetype,omitempty"`
	Description string `json:"description,omitempty"`
}

// Stage is a helpdesk pipeline stage.
type Stage struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Sequence int    `json:"sequence"`
	IsClose  bool   `json:"is_close"`
}

// TicketSnapshot is the ephemeral projection of a ticket used to build the
// destination payload.
type TicketSnapshot struct {
	TicketID      int
	Title         string
	Description   string
	Priority      string
	Requester     *PartnerDescriptor
	AssignedUser  string
	StageID       *int
	StageName     string
	Tags          []string
	CompanyName   string
	TicketType    string
	ChildPartner  *PartnerDescriptor
	ParentPartner *PartnerDescriptor
}

// NewTicketSnapshot projects a ticket plus the config's substitution partners.
func NewTicketSnapshot(t *Ticket, cfg *TransferConfig) TicketSnapshot {
	snap := TicketSnapshot{
		TicketID:     t.ID,
		Title:        t.Name,
		Description:  t.Description,
		Priority:     t.Priority,
		Requester:    t.Partner,
		AssignedUser: t.UserName,
		StageID:      t.StageID,
		StageName:    t.StageName,
		Tags:         append([]string(nil), t.Tags...),
		CompanyName:  t.CompanyName,
		TicketType:   t.TicketTypeName,
	}
	if cfg != nil {
		snap.ChildPartner = cfg.ChildPartner
		snap.ParentPartner = cfg.ParentPartner
	}
	return snap
}
