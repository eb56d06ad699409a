package transfer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/goatkit/tickettransfer/internal/models"
	"github.com/goatkit/tickettransfer/internal/service/remoterpc"
)

type call struct {
	Model  string
	Method string
	Args   []any
	Kwargs map[string]any
}

// stubDestination is an in-memory destination instance.
type stubDestination struct {
	mu          sync.Mutex
	calls       []call
	partners    map[string]int // email -> id
	stages      map[string]int // name -> id
	nextID      int
	ticketVals  []map[string]any
	failures    map[string]error // "model.method" -> error
	authErr     error
	panicOn     string
	createdByID map[int]map[string]any
}

func newStubDestination() *stubDestination {
	return &stubDestination{
		partners:    map[string]int{},
		stages:      map[string]int{},
		nextID:      900,
		failures:    map[string]error{},
		createdByID: map[int]map[string]any{},
	}
}

func (d *stubDestination) Invoke(_ context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.authErr != nil {
		return nil, d.authErr
	}
	key := model + "." + method
	if key == d.panicOn {
		panic("stub destination exploded")
	}
	d.calls = append(d.calls, call{Model: model, Method: method, Args: args, Kwargs: kwargs})
	if err, ok := d.failures[key]; ok {
		return nil, err
	}

	switch key {
	case "res.partner.search":
		email := domainValue(args)
		if id, ok := d.partners[email]; ok {
			return marshal([]int{id}), nil
		}
		return marshal([]int{}), nil
	case "helpdesk.stage.search":
		if id, ok := d.stages[domainValue(args)]; ok {
			return marshal([]int{id}), nil
		}
		return marshal([]int{}), nil
	case "res.partner.create":
		vals := args[0].(map[string]any)
		d.nextID++
		if email, _ := vals["email"].(string); email != "" {
			d.partners[email] = d.nextID
		}
		d.createdByID[d.nextID] = vals
		return marshal(d.nextID), nil
	case "helpdesk.ticket.create":
		d.nextID++
		vals := args[0].(map[string]any)
		d.ticketVals = append(d.ticketVals, vals)
		d.createdByID[d.nextID] = vals
		return marshal(d.nextID), nil
	case "ir.attachment.create":
		d.nextID++
		return marshal(d.nextID), nil
	case "res.partner.write", "helpdesk.ticket.message_post", "helpdesk.ticket.message_subscribe":
		return marshal(true), nil
	}
	return nil, &remoterpc.RemoteCallError{Model: model, Method: method, Message: "unknown method"}
}

func (d *stubDestination) count(model, method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Model == model && c.Method == method {
			n++
		}
	}
	return n
}

func (d *stubDestination) lastTicket() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ticketVals) == 0 {
		return nil
	}
	return d.ticketVals[len(d.ticketVals)-1]
}

// domainValue extracts the value of a single-term search domain.
func domainValue(args []any) string {
	domain := args[0].([]any)
	term := domain[0].([]any)
	return fmt.Sprint(term[2])
}

func marshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

type stubSource struct {
	tickets      map[int]*models.Ticket
	messages     []*models.TicketMessage
	followers    []*models.Follower
	attachments  []*models.Attachment
	closingStage *models.Stage
	notes        []*models.TicketMessage
	stageSet     map[int]int
	listErr      error
	panicOnNote  bool
}

func (s *stubSource) GetTicket(_ context.Context, id int) (*models.Ticket, error) {
	t, ok := s.tickets[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return t, nil
}

func (s *stubSource) ListMessages(context.Context, int) ([]*models.TicketMessage, error) {
	return s.messages, s.listErr
}

func (s *stubSource) ListFollowers(context.Context, int) ([]*models.Follower, error) {
	return s.followers, nil
}

func (s *stubSource) ListAttachments(context.Context, int) ([]*models.Attachment, error) {
	return s.attachments, nil
}

func (s *stubSource) PostNote(_ context.Context, _ int, note *models.TicketMessage) error {
	if s.panicOnNote {
		panic("note store exploded")
	}
	s.notes = append(s.notes, note)
	return nil
}

func (s *stubSource) FindClosingStage(context.Context, *int) (*models.Stage, error) {
	return s.closingStage, nil
}

func (s *stubSource) SetStage(_ context.Context, ticketID, stageID int) error {
	if s.stageSet == nil {
		s.stageSet = map[int]int{}
	}
	s.stageSet[ticketID] = stageID
	return nil
}

type stubConfigs map[int]*models.TransferConfig

func (c stubConfigs) GetByID(_ context.Context, id int) (*models.TransferConfig, error) {
	cfg, ok := c[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cfg, nil
}

type memHistory struct {
	rows []*models.TransferHistory
	err  error
}

func (m *memHistory) Create(_ context.Context, h *models.TransferHistory) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	h.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, h)
	return h.ID, nil
}
