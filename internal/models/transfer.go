package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidURL is returned for destination URLs that are not http(s).
var ErrInvalidURL = errors.New("destination URL must start with http:// or https://")

// TransferConfig describes a destination helpdesk instance.
// Stored in transfer_config, with stage mappings in transfer_stage_mapping.
type TransferConfig struct {
	ID              int                `json:"id" yaml:"-"`
	Name            string             `json:"name" yaml:"name"`
	URL             string             `json:"url" yaml:"url"`
	Database        string             `json:"database" yaml:"database"`
	Login           string             `json:"login" yaml:"login"`
	Secret          string             `json:"-" yaml:"api_key,omitempty"`
	Active          bool               `json:"active" yaml:"active"`
	CompanyID       *int               `json:"company_id,omitempty" yaml:"-"`
	ChildPartnerID  *int               `json:"child_partner_id,omitempty" yaml:"child_partner_id,omitempty"`
	ParentPartnerID *int               `json:"parent_partner_id,omitempty" yaml:"parent_partner_id,omitempty"`
	ChildPartner    *PartnerDescriptor `json:"child_partner,omitempty" yaml:"-"`
	ParentPartner   *PartnerDescriptor `json:"parent_partner,omitempty" yaml:"-"`
	StageMappings   []StageMapping     `json:"stage_mappings" yaml:"stage_mappings,omitempty"`
	Notes           string             `json:"notes,omitempty" yaml:"notes,omitempty"`
	LastTestDate    *time.Time         `json:"last_test_date,omitempty" yaml:"-"`
	LastTestResult  string             `json:"last_test_result,omitempty" yaml:"-"`
	CreateDate      time.Time          `json:"create_date" yaml:"-"`
	WriteDate       time.Time          `json:"write_date" yaml:"-"`
}

// StageMapping maps a local stage to a destination stage by name.
type StageMapping struct {
	ID                   int    `json:"id" yaml:"-"`
	ConfigID             int    `json:"config_id" yaml:"-"`
	Sequence             int    `json:"sequence" yaml:"sequence"`
	SourceStageID        int    `json:"source_stage_id" yaml:"source_stage_id"`
	SourceStageName      string `json:"source_stage_name,omitempty" yaml:"-"`
	DestinationStageName string `json:"destination_stage_name" yaml:"destination_stage_name"`
	Notes                string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// StageMappingFor returns the mapping for a local stage, if any.
func (c *TransferConfig) StageMappingFor(sourceStageID int) (StageMapping, bool) {
	if c == nil {
		return StageMapping{}, false
	}
	for _, m := range c.StageMappings {
		if m.SourceStageID == sourceStageID {
			return m, true
		}
	}
	return StageMapping{}, false
}

// ValidateBaseURL checks the destination URL scheme and host.
func ValidateBaseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

// Validate checks the fields required before a config may be persisted.
func (c *TransferConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	if err := ValidateBaseURL(c.URL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Database) == "" {
		return errors.New("database is required")
	}
	if strings.TrimSpace(c.Login) == "" {
		return errors.New("login is required")
	}
	if c.Secret == "" {
		return errors.New("api key is required")
	}

	seen := make(map[int]struct{}, len(c.StageMappings))
	for _, m := range c.StageMappings {
		if m.SourceStageID <= 0 {
			return errors.New("stage mapping requires a source stage")
		}
		if strings.TrimSpace(m.DestinationStageName) == "" {
			return fmt.Errorf("stage mapping for stage %d requires a destination stage name", m.SourceStageID)
		}
		if _, dup := seen[m.SourceStageID]; dup {
			return fmt.Errorf("source stage %d is mapped more than once", m.SourceStageID)
		}
		seen[m.SourceStageID] = struct{}{}
	}
	return nil
}

// TransferStatus is the outcome recorded on a history row.
type TransferStatus string

const (
	TransferStatusSuccess TransferStatus = "success"
	TransferStatusFailed  TransferStatus = "failed"
	// TransferStatusPartial is accepted when reading history but never written.
	TransferStatusPartial TransferStatus = "partial"
)

// Valid reports whether s is a known status.
func (s TransferStatus) Valid() bool {
	switch s {
	case TransferStatusSuccess, TransferStatusFailed, TransferStatusPartial:
		return true
	}
	return false
}

// TransferHistory is one append-only ledger row per transfer run.
type TransferHistory struct {
	ID                     int64          `db:"id" json:"id"`
	RunID                  string         `db:"run_id" json:"run_id"`
	TicketID               int            `db:"ticket_id" json:"ticket_id"`
	ConfigID               int            `db:"config_id" json:"config_id"`
	ConfigName             string         `db:"config_name" json:"config_name,omitempty"`
	TransferDate           time.Time      `db:"transfer_date" json:"transfer_date"`
	TransferredBy          int            `db:"transferred_by" json:"transferred_by"`
	RemoteTicketID         *int           `db:"remote_ticket_id" json:"remote_ticket_id,omitempty"`
	RemoteTicketURL        *string        `db:"remote_ticket_url" json:"remote_ticket_url,omitempty"`
	Status                 TransferStatus `db:"status" json:"status"`
	Notes                  string         `db:"notes" json:"notes,omitempty"`
	MessagesTransferred    int            `db:"messages_transferred" json:"messages_transferred"`
	FollowersTransferred   int            `db:"followers_transferred" json:"followers_transferred"`
	AttachmentsTransferred int            `db:"attachments_transferred" json:"attachments_transferred"`
}
