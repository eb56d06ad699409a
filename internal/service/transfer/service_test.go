package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/tickettransfer/internal/history"
	"github.com/goatkit/tickettransfer/internal/instrument"
	"github.com/goatkit/tickettransfer/internal/models"
	"github.com/goatkit/tickettransfer/internal/service/remoterpc"
)

type fixture struct {
	dest     *stubDestination
	source   *stubSource
	configs  stubConfigs
	ledger   *memHistory
	hook     *logtest.Hook
	svc      *Service
	connects int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stage := 4
	team := 2
	f := &fixture{
		dest: newStubDestination(),
		source: &stubSource{
			tickets: map[int]*models.Ticket{
				42: {
					ID:          42,
					Name:        "Printer jam",
					Description: "<p>Paper stuck in tray 2</p>",
					Priority:    "2",
					Partner:     &models.PartnerDescriptor{ID: 7, Name: "Alice", Email: "a@x.com"},
					StageID:     &stage,
					StageName:   "In Progress",
					TeamID:      &team,
				},
			},
		},
		configs: stubConfigs{
			3: {
				ID:       3,
				Name:     "EU Support",
				URL:      "https://eu.example.com/",
				Database: "helpdesk",
				Login:    "bridge",
				Secret:   "secret",
				Active:   true,
			},
		},
		ledger: &memHistory{},
	}
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	f.hook = hook
	f.svc = NewService(f.source, f.configs, history.NewLedger(f.ledger), func(remoterpc.Endpoint) remoterpc.Invoker {
		f.connects++
		return f.dest
	}, WithLogger(log))
	f.svc.newRunID = func() string { return "run-fixed" }
	return f
}

func (f *fixture) printerJamSubresources() {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.source.messages = []*models.TicketMessage{
		{ID: 1, Body: "<p>It jammed</p>", MessageType: "comment", Date: base},
		{ID: 2, Body: "<p>Tried again</p>", MessageType: "comment", Date: base.Add(time.Hour)},
		{ID: 3, Body: "<p>Still broken</p>", Subject: "Update", MessageType: "email", Date: base.Add(2 * time.Hour)},
	}
	f.source.followers = []*models.Follower{
		{PartnerID: 7, Name: "Alice", Email: "a@x.com"},
		{PartnerID: 8, Name: "Bob"},
	}
	f.source.attachments = []*models.Attachment{
		{ID: 5, Name: "jam.png", Datas: "aGVsbG8=", Mimetype: "image/png"},
	}
}

func (f *fixture) warned(msg string) bool {
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == msg {
			return true
		}
	}
	return false
}

func TestTransferPrinterJamScenario(t *testing.T) {
	f := newFixture(t)
	f.printerJamSubresources()

	out, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.NoError(t, err)

	assert.Equal(t, "run-fixed", out.RunID)
	assert.Equal(t, 3, out.Messages.Transferred)
	assert.Equal(t, 1, out.Followers.Transferred)
	assert.Equal(t, 1, out.Followers.Skipped)
	assert.Equal(t, 1, out.Attachments.Transferred)

	require.Len(t, f.ledger.rows, 1)
	row := f.ledger.rows[0]
	assert.Equal(t, models.TransferStatusSuccess, row.Status)
	assert.Equal(t, 3, row.MessagesTransferred)
	assert.Equal(t, 1, row.FollowersTransferred)
	assert.Equal(t, 1, row.AttachmentsTransferred)
	require.NotNil(t, row.RemoteTicketID)
	assert.Equal(t, out.RemoteTicketID, *row.RemoteTicketID)
	assert.Equal(t, history.RemoteTicketURL("https://eu.example.com", out.RemoteTicketID), out.RemoteURL)

	// Requester created once by name after the email search missed.
	assert.Equal(t, 1, f.dest.count("res.partner", "create"))
	vals := f.dest.lastTicket()
	assert.Equal(t, "Printer jam", vals["name"])
	assert.Equal(t, "2", vals["priority"])
	assert.Contains(t, vals, "partner_id")
	assert.NotContains(t, vals, "stage_id")

	require.Len(t, f.source.notes, 1)
	assert.Equal(t, history.NoteSubject, f.source.notes[0].Subject)
	assert.Equal(t, "notification", f.source.notes[0].MessageType)
	assert.Contains(t, f.source.notes[0].Body, "Messages transferred: 3")
	assert.False(t, out.SourceClosed)
}

func TestTransferMessagesAreReplayedInOrder(t *testing.T) {
	f := newFixture(t)
	f.printerJamSubresources()

	_, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.NoError(t, err)

	var bodies []any
	for _, c := range f.dest.calls {
		if c.Method == "message_post" {
			bodies = append(bodies, c.Kwargs["body"])
		}
	}
	assert.Equal(t, []any{"<p>It jammed</p>", "<p>Tried again</p>", "<p>Still broken</p>"}, bodies)
}

func TestTransferInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.printerJamSubresources()
	f.dest.authErr = &remoterpc.AuthenticationError{URL: "https://eu.example.com", Message: "Access Denied"}

	req := NewRequest(42, 3)
	req.Annotation = "urgent"
	out, err := f.svc.Transfer(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, out)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, PhaseCreating, terr.Phase)
	assert.True(t, remoterpc.IsAuthentication(err))

	require.Len(t, f.ledger.rows, 1)
	row := f.ledger.rows[0]
	assert.Equal(t, models.TransferStatusFailed, row.Status)
	assert.Nil(t, row.RemoteTicketID)
	assert.Nil(t, row.RemoteTicketURL)
	assert.Zero(t, row.MessagesTransferred+row.FollowersTransferred+row.AttachmentsTransferred)
	assert.Contains(t, row.Notes, "urgent\n\nError: authentication failed")
	assert.Same(t, row, terr.History)

	assert.Zero(t, f.dest.count("helpdesk.ticket", "message_post"))
	assert.Empty(t, f.source.notes)
}

func TestTransferCreateFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.printerJamSubresources()
	f.dest.failures["helpdesk.ticket.create"] = &remoterpc.RemoteCallError{
		Model: "helpdesk.ticket", Method: "create", Message: "Missing required field team_id",
	}

	_, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	var callErr *remoterpc.RemoteCallError
	require.ErrorAs(t, err, &callErr)

	require.Len(t, f.ledger.rows, 1)
	assert.Equal(t, models.TransferStatusFailed, f.ledger.rows[0].Status)
	assert.Contains(t, f.ledger.rows[0].Notes, "Missing required field team_id")
	assert.Zero(t, f.dest.count("helpdesk.ticket", "message_post"))
	assert.Zero(t, f.dest.count("ir.attachment", "create"))
}

func TestTransferAllSubresourcesFailStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.printerJamSubresources()
	f.dest.partners["a@x.com"] = 11
	boom := &remoterpc.RemoteCallError{Message: "Access Denied"}
	f.dest.failures["helpdesk.ticket.message_post"] = boom
	f.dest.failures["helpdesk.ticket.message_subscribe"] = boom
	f.dest.failures["ir.attachment.create"] = boom

	out, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, out.Messages.Failed)
	assert.Equal(t, 1, out.Followers.Failed)
	assert.Equal(t, 1, out.Attachments.Failed)

	require.Len(t, f.ledger.rows, 1)
	row := f.ledger.rows[0]
	assert.Equal(t, models.TransferStatusSuccess, row.Status)
	assert.Zero(t, row.MessagesTransferred)
	assert.Zero(t, row.FollowersTransferred)
	assert.Zero(t, row.AttachmentsTransferred)
	assert.True(t, f.warned("failed to transfer message"))
}

func TestTransferStageMapping(t *testing.T) {
	t.Run("mapped stage found", func(t *testing.T) {
		f := newFixture(t)
		f.configs[3].StageMappings = []models.StageMapping{{SourceStageID: 4, DestinationStageName: "Working"}}
		f.dest.stages["Working"] = 17

		_, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
		require.NoError(t, err)
		assert.Equal(t, 17, f.dest.lastTicket()["stage_id"])
	})

	t.Run("mapped stage missing remotely", func(t *testing.T) {
		f := newFixture(t)
		f.configs[3].StageMappings = []models.StageMapping{{SourceStageID: 4, DestinationStageName: "Nope"}}

		out, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
		require.NoError(t, err)
		assert.NotContains(t, f.dest.lastTicket(), "stage_id")
		assert.Contains(t, out.Warnings, `destination stage "Nope" not found on remote system`)
		assert.True(t, f.warned(`destination stage "Nope" not found on remote system`))
	})

	t.Run("no mapping skips lookup", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
		require.NoError(t, err)
		assert.NotContains(t, f.dest.lastTicket(), "stage_id")
		assert.Zero(t, f.dest.count("helpdesk.stage", "search"))
	})
}

func TestTransferChildAndParentPartners(t *testing.T) {
	f := newFixture(t)
	f.configs[3].ChildPartner = &models.PartnerDescriptor{Name: "Acme Desk", Email: "desk@acme.test"}
	f.configs[3].ParentPartner = &models.PartnerDescriptor{Name: "Acme Corp", Email: "corp@acme.test"}
	f.dest.partners["corp@acme.test"] = 50

	_, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.NoError(t, err)

	childID := f.dest.partners["desk@acme.test"]
	require.NotZero(t, childID)
	assert.Equal(t, childID, f.dest.lastTicket()["partner_id"])

	var write *call
	for i := range f.dest.calls {
		if f.dest.calls[i].Method == "write" {
			write = &f.dest.calls[i]
		}
	}
	require.NotNil(t, write)
	assert.Equal(t, []int{childID}, write.Args[0])
	assert.Equal(t, map[string]any{"parent_id": 50}, write.Args[1])
}

func TestTransferParentLinkFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.configs[3].ChildPartner = &models.PartnerDescriptor{Name: "Acme Desk"}
	f.configs[3].ParentPartner = &models.PartnerDescriptor{Name: "Acme Corp"}
	f.dest.failures["res.partner.write"] = errors.New("write not allowed")

	out, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.NoError(t, err)
	assert.True(t, f.warned("could not set parent relationship"))
	assert.NotEmpty(t, out.Warnings)
	assert.Equal(t, models.TransferStatusSuccess, f.ledger.rows[0].Status)
}

func TestTransferInvalidURLRejectedBeforeNetwork(t *testing.T) {
	f := newFixture(t)
	f.configs[3].URL = "ftp://eu.example.com"

	_, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, models.ErrInvalidURL)
	assert.Zero(t, f.connects)
	assert.Empty(t, f.dest.calls)

	require.Len(t, f.ledger.rows, 1)
	assert.Equal(t, models.TransferStatusFailed, f.ledger.rows[0].Status)
}

func TestTransferInactiveConfig(t *testing.T) {
	f := newFixture(t)
	f.configs[3].Active = false

	_, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "inactive")
	assert.Zero(t, f.connects)
}

func TestTransferRejectsMissingInputsWithoutHistory(t *testing.T) {
	f := newFixture(t)

	for name, req := range map[string]Request{
		"no config":      NewRequest(42, 0),
		"unknown config": NewRequest(42, 99),
		"unknown ticket": NewRequest(404, 3),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Transfer(context.Background(), req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			var terr *Error
			require.ErrorAs(t, err, &terr)
			assert.Nil(t, terr.History)
		})
	}
	assert.Empty(t, f.ledger.rows)
	assert.Zero(t, f.connects)
}

func TestTransferTwiceCreatesTwoRemoteTickets(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.NoError(t, err)
	second, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.NoError(t, err)

	assert.NotEqual(t, first.RemoteTicketID, second.RemoteTicketID)
	assert.Len(t, f.ledger.rows, 2)
	assert.Equal(t, 2, f.dest.count("helpdesk.ticket", "create"))
	// The requester was created the first time and found the second.
	assert.Equal(t, 1, f.dest.count("res.partner", "create"))
}

func TestTransferTogglesAndCloseSource(t *testing.T) {
	f := newFixture(t)
	f.printerJamSubresources()
	f.source.closingStage = &models.Stage{ID: 9, Name: "Solved", IsClose: true}

	req := NewRequest(42, 3)
	req.Messages = false
	req.Attachments = false
	req.AddNote = false
	req.CloseSource = true

	out, err := f.svc.Transfer(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, f.dest.count("helpdesk.ticket", "message_post"))
	assert.Zero(t, f.dest.count("ir.attachment", "create"))
	assert.Empty(t, f.source.notes)
	assert.True(t, out.SourceClosed)
	assert.Equal(t, 9, f.source.stageSet[42])
}

func TestTransferCloseSourceWithoutClosingStage(t *testing.T) {
	f := newFixture(t)
	req := NewRequest(42, 3)
	req.CloseSource = true

	out, err := f.svc.Transfer(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, out.SourceClosed)
	assert.Contains(t, out.Warnings, "close source ticket: no closing stage found")
}

func TestTransferSubresourceLoadErrorIsAWarning(t *testing.T) {
	f := newFixture(t)
	f.source.listErr = errors.New("mail table locked")

	out, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.NoError(t, err)
	assert.Contains(t, out.Warnings, "messages: mail table locked")
}

func TestTransferPanicBecomesFailedRow(t *testing.T) {
	f := newFixture(t)
	f.dest.panicOn = "helpdesk.ticket.create"

	_, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stub destination exploded")
	require.Len(t, f.ledger.rows, 1)
	assert.Equal(t, models.TransferStatusFailed, f.ledger.rows[0].Status)
}

func TestTransferPanicAfterSuccessRowWritesNoSecondRow(t *testing.T) {
	f := newFixture(t)
	f.source.panicOnNote = true

	_, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.Error(t, err)
	require.Len(t, f.ledger.rows, 1)
	assert.Equal(t, models.TransferStatusSuccess, f.ledger.rows[0].Status)
}

func TestTransferLedgerFailureOnFailedRun(t *testing.T) {
	f := newFixture(t)
	f.dest.authErr = &remoterpc.AuthenticationError{Message: "Access Denied"}
	f.ledger.err = errors.New("disk full")

	_, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.Error(t, err)
	assert.True(t, remoterpc.IsAuthentication(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestTransferMonitorRecordsSlowPhases(t *testing.T) {
	f := newFixture(t)
	rec := &memTimeouts{}
	f.svc.monitor = instrument.NewMonitor(instrument.WithRecorder(rec))
	f.svc.phaseThreshold = time.Nanosecond
	f.dest.failures["helpdesk.ticket.create"] = errors.New("boom")

	_, err := f.svc.Transfer(context.Background(), NewRequest(42, 3))
	require.Error(t, err)
	require.NotEmpty(t, rec.logs)
	assert.Equal(t, "transfer.create", rec.logs[0].Name)
	assert.Equal(t, "boom", rec.logs[0].ErrorMessage)
	require.NotNil(t, rec.logs[0].RecordID)
	assert.Equal(t, 42, *rec.logs[0].RecordID)
}

type memTimeouts struct {
	logs []*models.TimeoutLog
}

func (m *memTimeouts) RecordTimeout(_ context.Context, l *models.TimeoutLog) error {
	m.logs = append(m.logs, l)
	return nil
}
