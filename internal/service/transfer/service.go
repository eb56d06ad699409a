// Package transfer recreates a local helpdesk ticket and its sub-resources on
// a remote instance and records the outcome in the history ledger.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/history"
	"github.com/goatkit/tickettransfer/internal/instrument"
	"github.com/goatkit/tickettransfer/internal/logger"
	"github.com/goatkit/tickettransfer/internal/models"
	"github.com/goatkit/tickettransfer/internal/repository"
	"github.com/goatkit/tickettransfer/internal/service/remoterpc"
)

// Phase is a step of a transfer run.
type Phase string

const (
	PhasePreparing                Phase = "preparing"
	PhaseCreating                 Phase = "creating"
	PhaseTransferringSubresources Phase = "transferring_subresources"
	PhaseFinalizing               Phase = "finalizing"
	PhaseSucceeded                Phase = "succeeded"
	PhaseFailed                   Phase = "failed"
)

// DefaultPhaseThreshold is the slow-phase threshold used by the monitor.
const DefaultPhaseThreshold = 60 * time.Second

// SourceStore is the local ticket store a run reads from and writes back to.
type SourceStore interface {
	SubresourceSource
	GetTicket(ctx context.Context, id int) (*models.Ticket, error)
	PostNote(ctx context.Context, ticketID int, note *models.TicketMessage) error
	FindClosingStage(ctx context.Context, teamID *int) (*models.Stage, error)
	SetStage(ctx context.Context, ticketID, stageID int) error
}

// ConfigStore loads destination configurations.
type ConfigStore interface {
	GetByID(ctx context.Context, id int) (*models.TransferConfig, error)
}

// ConnectFunc opens an invoker for a destination endpoint.
type ConnectFunc func(ep remoterpc.Endpoint) remoterpc.Invoker

// ClientConnector adapts a remoterpc.Client into a ConnectFunc.
func ClientConnector(c *remoterpc.Client, reuseSession bool) ConnectFunc {
	return func(ep remoterpc.Endpoint) remoterpc.Invoker {
		return c.Connect(ep, reuseSession)
	}
}

// Request holds the inputs of one transfer run.
type Request struct {
	TicketID    int    `json:"ticket_id"`
	ConfigID    int    `json:"config_id"`
	ActorID     int    `json:"-"`
	Messages    bool   `json:"transfer_messages"`
	Followers   bool   `json:"transfer_followers"`
	Attachments bool   `json:"transfer_attachments"`
	CloseSource bool   `json:"close_original"`
	AddNote     bool   `json:"add_transfer_note"`
	Annotation  string `json:"notes"`
}

// NewRequest returns a request with the default toggles: every sub-resource,
// a note on the source ticket, and the source left open.
func NewRequest(ticketID, configID int) Request {
	return Request{
		TicketID:    ticketID,
		ConfigID:    configID,
		Messages:    true,
		Followers:   true,
		Attachments: true,
		AddNote:     true,
	}
}

// Outcome describes a successful run.
type Outcome struct {
	RunID          string                  `json:"run_id"`
	RemoteTicketID int                     `json:"remote_ticket_id"`
	RemoteURL      string                  `json:"remote_ticket_url"`
	History        *models.TransferHistory `json:"history"`
	Messages       DriverResult            `json:"messages"`
	Followers      DriverResult            `json:"followers"`
	Attachments    DriverResult            `json:"attachments"`
	SourceClosed   bool                    `json:"source_closed"`
	Warnings       []string                `json:"warnings,omitempty"`
}

// ValidationError rejects a run before any remote call.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Error is returned for every failed run. History is the failed ledger row,
// nil when the run was rejected before a ticket and config were loaded.
type Error struct {
	RunID    string
	TicketID int
	Phase    Phase
	History  *models.TransferHistory
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer of ticket %d failed: %v", e.TicketID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Service runs ticket transfers.
type Service struct {
	source         SourceStore
	configs        ConfigStore
	ledger         *history.Ledger
	connect        ConnectFunc
	monitor        *instrument.Monitor
	phaseThreshold time.Duration
	newRunID       func() string
	log            logrus.FieldLogger
	metrics        *transferMetrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger injects a logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithMonitor times every phase of a run.
func WithMonitor(m *instrument.Monitor) Option {
	return func(s *Service) {
		s.monitor = m
	}
}

// WithPhaseThreshold sets the slow-phase threshold.
func WithPhaseThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.phaseThreshold = d
		}
	}
}

// NewService creates a transfer service.
func NewService(source SourceStore, configs ConfigStore, ledger *history.Ledger, connect ConnectFunc, opts ...Option) *Service {
	s := &Service{
		source:         source,
		configs:        configs,
		ledger:         ledger,
		connect:        connect,
		phaseThreshold: DefaultPhaseThreshold,
		newRunID:       uuid.NewString,
		metrics:        globalTransferMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.Component(s.log, "transfer")
	return s
}

// run carries the state of one transfer.
type run struct {
	id      string
	req     Request
	ticket  *models.Ticket
	cfg     *models.TransferConfig
	phase   Phase
	log     logrus.FieldLogger
	started time.Time

	remote   remoterpc.Invoker
	remoteID *int
	recorded bool
	outcome  Outcome
}

func (r *run) enter(p Phase) {
	r.phase = p
	r.log = r.log.WithField("phase", p)
	r.log.Debug("entering phase")
}

func (r *run) warn(msg string) {
	if msg != "" {
		r.outcome.Warnings = append(r.outcome.Warnings, msg)
	}
}

// Transfer recreates the ticket on the configured destination. Once the
// ticket and config are loaded exactly one history row is written, whatever
// the result. A panic inside the run is converted into a failed row and
// returned as an error.
func (s *Service) Transfer(ctx context.Context, req Request) (out *Outcome, err error) {
	r := &run{
		id:      s.newRunID(),
		req:     req,
		phase:   PhasePreparing,
		started: time.Now(),
	}
	r.log = s.log.WithFields(logrus.Fields{
		"run_id":    r.id,
		"ticket_id": req.TicketID,
		"config_id": req.ConfigID,
	})

	if err := s.load(ctx, r); err != nil {
		return nil, &Error{RunID: r.id, TicketID: req.TicketID, Phase: r.phase, Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.WithField("panic", p).Error("transfer panicked")
			cause := fmt.Errorf("unexpected failure: %v", p)
			if r.recorded {
				out, err = nil, &Error{RunID: r.id, TicketID: req.TicketID, Phase: r.phase, History: r.outcome.History, Err: cause}
				return
			}
			out, err = nil, s.fail(ctx, r, cause)
		}
	}()

	if err := s.validate(r); err != nil {
		return nil, s.fail(ctx, r, err)
	}

	r.log.WithField("url", r.cfg.URL).Info("transferring ticket")

	r.enter(PhasePreparing)
	snap := models.NewTicketSnapshot(r.ticket, r.cfg)

	r.enter(PhaseCreating)
	if err := s.monitored(ctx, r, "transfer.create", func(ctx context.Context) error {
		return s.create(ctx, r, snap)
	}); err != nil {
		return nil, s.fail(ctx, r, err)
	}

	r.enter(PhaseTransferringSubresources)
	_ = s.monitored(ctx, r, "transfer.subresources", func(ctx context.Context) error {
		s.transferSubresources(ctx, r)
		return nil
	})

	r.enter(PhaseFinalizing)
	if err := s.finalize(ctx, r); err != nil {
		return nil, &Error{RunID: r.id, TicketID: req.TicketID, Phase: r.phase, Err: err}
	}

	r.enter(PhaseSucceeded)
	s.metrics.run(models.TransferStatusSuccess, time.Since(r.started))
	r.log.WithFields(logrus.Fields{
		"remote_ticket_id": *r.remoteID,
		"messages":         r.outcome.Messages.Transferred,
		"followers":        r.outcome.Followers.Transferred,
		"attachments":      r.outcome.Attachments.Transferred,
	}).Info("ticket transferred")
	return &r.outcome, nil
}

// load fetches the ticket and config. Failures here are not recorded
// because the history row needs both.
func (s *Service) load(ctx context.Context, r *run) error {
	if r.req.ConfigID <= 0 {
		return &ValidationError{Message: "please select a destination configuration"}
	}
	if r.req.TicketID <= 0 {
		return &ValidationError{Message: "ticket is required"}
	}

	ticket, err := s.source.GetTicket(ctx, r.req.TicketID)
	if err != nil {
		if repository.IsNotFound(err) {
			return &ValidationError{Message: fmt.Sprintf("ticket %d not found", r.req.TicketID), Err: err}
		}
		return fmt.Errorf("load ticket: %w", err)
	}
	cfg, err := s.configs.GetByID(ctx, r.req.ConfigID)
	if err != nil {
		if repository.IsNotFound(err) {
			return &ValidationError{Message: fmt.Sprintf("destination configuration %d not found", r.req.ConfigID), Err: err}
		}
		return fmt.Errorf("load destination configuration: %w", err)
	}
	r.ticket, r.cfg = ticket, cfg
	return nil
}

func (s *Service) validate(r *run) error {
	if !r.cfg.Active {
		return &ValidationError{Message: fmt.Sprintf("destination configuration %q is inactive", r.cfg.Name)}
	}
	if err := models.ValidateBaseURL(r.cfg.URL); err != nil {
		return &ValidationError{Message: "invalid destination URL", Err: err}
	}
	return nil
}

func (s *Service) create(ctx context.Context, r *run, snap models.TicketSnapshot) error {
	r.remote = s.connect(remoterpc.EndpointFromConfig(r.cfg))
	resolver := NewResolver(r.remote, r.log)

	partners, err := resolver.ResolvePartners(ctx, snap)
	if err != nil {
		return err
	}
	for _, w := range partners.Warnings {
		r.warn(w)
	}

	stageID, warning, err := resolver.ResolveStage(ctx, r.cfg, snap)
	if err != nil {
		return err
	}
	r.warn(warning)

	raw, err := r.remote.Invoke(ctx, ModelTicket, "create", []any{BuildPayload(snap, partners.PartnerID, stageID)}, nil)
	if err != nil {
		return err
	}
	id, err := remoterpc.DecodeID(raw)
	if err != nil {
		return fmt.Errorf("failed to create ticket on remote instance: %w", err)
	}
	if id <= 0 {
		return errors.New("failed to create ticket on remote instance")
	}
	r.remoteID = &id
	r.log = r.log.WithField("remote_ticket_id", id)
	return nil
}

func (s *Service) transferSubresources(ctx context.Context, r *run) {
	d := &drivers{
		source:   s.source,
		remote:   r.remote,
		resolver: NewResolver(r.remote, r.log),
		log:      r.log,
		metrics:  s.metrics,
	}
	steps := []struct {
		kind    string
		enabled bool
		run     func(context.Context, int, int) (DriverResult, error)
		out     *DriverResult
	}{
		{"messages", r.req.Messages, d.messages, &r.outcome.Messages},
		{"followers", r.req.Followers, d.followers, &r.outcome.Followers},
		{"attachments", r.req.Attachments, d.attachments, &r.outcome.Attachments},
	}
	for _, step := range steps {
		if !step.enabled {
			continue
		}
		res, err := step.run(ctx, r.ticket.ID, *r.remoteID)
		if err != nil {
			r.log.WithError(err).WithField("kind", step.kind).Warn("could not load sub-resources")
			r.warn(fmt.Sprintf("%s: %v", step.kind, err))
		}
		*step.out = res
	}
}

func (s *Service) finalize(ctx context.Context, r *run) error {
	h, err := s.ledger.Record(ctx, history.Entry{
		RunID:          r.id,
		TicketID:       r.ticket.ID,
		ConfigID:       r.cfg.ID,
		ActorID:        r.req.ActorID,
		BaseURL:        r.cfg.URL,
		RemoteTicketID: r.remoteID,
		Status:         models.TransferStatusSuccess,
		Notes:          r.req.Annotation,
		Messages:       r.outcome.Messages.Transferred,
		Followers:      r.outcome.Followers.Transferred,
		Attachments:    r.outcome.Attachments.Transferred,
	})
	if err != nil {
		return err
	}
	r.recorded = true

	r.outcome.RunID = r.id
	r.outcome.RemoteTicketID = *r.remoteID
	r.outcome.History = h
	if h.RemoteTicketURL != nil {
		r.outcome.RemoteURL = *h.RemoteTicketURL
	}

	if r.req.AddNote {
		note := &models.TicketMessage{
			TicketID:    r.ticket.ID,
			Subject:     history.NoteSubject,
			MessageType: "notification",
			Body: history.TransferNoteHTML(history.NoteData{
				ConfigName:     r.cfg.Name,
				RemoteTicketID: *r.remoteID,
				RemoteURL:      r.outcome.RemoteURL,
				Messages:       h.MessagesTransferred,
				Followers:      h.FollowersTransferred,
				Attachments:    h.AttachmentsTransferred,
				Annotation:     r.req.Annotation,
			}),
		}
		if err := s.source.PostNote(ctx, r.ticket.ID, note); err != nil {
			r.log.WithError(err).Warn("could not post transfer note")
			r.warn(fmt.Sprintf("transfer note: %v", err))
		}
	}

	if r.req.CloseSource {
		stage, err := s.source.FindClosingStage(ctx, r.ticket.TeamID)
		switch {
		case err != nil:
			r.log.WithError(err).Warn("could not look up closing stage")
			r.warn(fmt.Sprintf("close source ticket: %v", err))
		case stage == nil:
			r.log.Warn("no closing stage for ticket team")
			r.warn("close source ticket: no closing stage found")
		default:
			if err := s.source.SetStage(ctx, r.ticket.ID, stage.ID); err != nil {
				r.log.WithError(err).Warn("could not close source ticket")
				r.warn(fmt.Sprintf("close source ticket: %v", err))
			} else {
				r.outcome.SourceClosed = true
			}
		}
	}
	return nil
}

// fail writes the failed history row and builds the returned error.
func (s *Service) fail(ctx context.Context, r *run, cause error) error {
	failedIn := r.phase
	r.enter(PhaseFailed)
	r.log.WithError(cause).WithField("failed_in", failedIn).Error("error transferring ticket")
	s.metrics.run(models.TransferStatusFailed, time.Since(r.started))

	out := &Error{RunID: r.id, TicketID: r.ticket.ID, Phase: failedIn, Err: cause}
	h, err := s.ledger.Record(context.WithoutCancel(ctx), history.Entry{
		RunID:    r.id,
		TicketID: r.ticket.ID,
		ConfigID: r.cfg.ID,
		ActorID:  r.req.ActorID,
		BaseURL:  r.cfg.URL,
		Status:   models.TransferStatusFailed,
		Notes:    history.FailureNotes(r.req.Annotation, cause),
	})
	if err != nil {
		r.log.WithError(err).Error("could not record failed transfer")
		out.Err = errors.Join(cause, err)
		return out
	}
	r.recorded = true
	out.History = h
	return out
}

func (s *Service) monitored(ctx context.Context, r *run, name string, op instrument.Operation) error {
	ticketID := r.ticket.ID
	var actor *int
	if r.req.ActorID > 0 {
		actor = &r.req.ActorID
	}
	return s.monitor.Run(ctx, instrument.Spec{
		Name:        name,
		Model:       ModelTicket,
		Method:      string(r.phase),
		RecordID:    &ticketID,
		UserID:      actor,
		ContextInfo: "run " + r.id,
		Threshold:   s.phaseThreshold,
	}, op)
}
