package v1

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/tickettransfer/internal/apierrors"
	"github.com/goatkit/tickettransfer/internal/export"
	"github.com/goatkit/tickettransfer/internal/models"
	"github.com/goatkit/tickettransfer/internal/service/transfer"
)

// transferRequest mirrors transfer.Request with optional toggles so that
// omitted fields keep their defaults.
type transferRequest struct {
	TicketID    int    `json:"ticket_id"`
	ConfigID    int    `json:"config_id"`
	UserID      int    `json:"user_id"`
	Messages    *bool  `json:"transfer_messages"`
	Followers   *bool  `json:"transfer_followers"`
	Attachments *bool  `json:"transfer_attachments"`
	CloseSource *bool  `json:"close_original"`
	AddNote     *bool  `json:"add_transfer_note"`
	Notes       string `json:"notes"`
}

func (r transferRequest) toRequest() transfer.Request {
	req := transfer.NewRequest(r.TicketID, r.ConfigID)
	req.ActorID = r.UserID
	req.Annotation = r.Notes
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&req.Messages, r.Messages)
	set(&req.Followers, r.Followers)
	set(&req.Attachments, r.Attachments)
	set(&req.CloseSource, r.CloseSource)
	set(&req.AddNote, r.AddNote)
	return req
}

// handleCreateTransfer runs a transfer synchronously.
// POST /api/v1/transfers
func (router *APIRouter) handleCreateTransfer(c *gin.Context) {
	var body transferRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "Invalid transfer request: "+err.Error())
		return
	}

	out, err := router.deps.Transfers.Transfer(c.Request.Context(), body.toRequest())
	if err != nil {
		var terr *transfer.Error
		if errors.As(err, &terr) && terr.History != nil {
			// The failed run is in the ledger; hand back its row with the error.
			code := apierrors.CodeFor(err)
			c.JSON(apierrors.Registry.HTTPStatus(code), gin.H{
				"error":   apierrors.NewWithMessage(code, err.Error()),
				"run_id":  terr.RunID,
				"history": terr.History,
			})
			return
		}
		router.sendServiceError(c, err)
		return
	}

	sendCreated(c, out)
}

// handleListRecentTransfers lists the newest ledger rows.
// GET /api/v1/transfers?limit=50
func (router *APIRouter) handleListRecentTransfers(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 500)
	rows, err := router.deps.History.ListRecent(c.Request.Context(), limit)
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendSuccess(c, gin.H{"count": len(rows), "transfers": rows})
}

// handleGetTransfer returns a single ledger row.
// GET /api/v1/transfers/:id
func (router *APIRouter) handleGetTransfer(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierrors.Error(c, apierrors.CodeInvalidID)
		return
	}
	row, err := router.deps.History.GetByID(c.Request.Context(), id)
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendSuccess(c, row)
}

// handleGetTicketTransfers lists every transfer of a ticket, newest first.
// GET /api/v1/tickets/:id/transfers
func (router *APIRouter) handleGetTicketTransfers(c *gin.Context) {
	ticketID, ok := intParam(c, "id")
	if !ok {
		return
	}
	rows, err := router.deps.History.ListByTicket(c.Request.Context(), ticketID)
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendSuccess(c, gin.H{"ticket_id": ticketID, "count": len(rows), "transfers": rows})
}

// handleCountTicketTransfers returns how often a ticket was transferred.
// GET /api/v1/tickets/:id/transfers/count
func (router *APIRouter) handleCountTicketTransfers(c *gin.Context) {
	ticketID, ok := intParam(c, "id")
	if !ok {
		return
	}
	n, err := router.deps.History.CountByTicket(c.Request.Context(), ticketID)
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendSuccess(c, gin.H{"ticket_id": ticketID, "transfer_count": n})
}

// handleExportTransfers downloads history as a spreadsheet, either for one
// ticket (?ticket_id=) or the most recent rows.
// GET /api/v1/transfers/export.xlsx
func (router *APIRouter) handleExportTransfers(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		rows []*models.TransferHistory
		err  error
		name string
	)
	if raw := c.Query("ticket_id"); raw != "" {
		ticketID, convErr := strconv.Atoi(raw)
		if convErr != nil || ticketID <= 0 {
			apierrors.Error(c, apierrors.CodeInvalidID)
			return
		}
		rows, err = router.deps.History.ListByTicket(ctx, ticketID)
		name = fmt.Sprintf("ticket-%d-transfers.xlsx", ticketID)
	} else {
		rows, err = router.deps.History.ListRecent(ctx, queryInt(c, "limit", 1000, 10000))
		name = fmt.Sprintf("transfers-%s.xlsx", time.Now().UTC().Format("20060102"))
	}
	if err != nil {
		router.sendServiceError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteHistoryXLSX(&buf, rows); err != nil {
		router.sendServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, export.ContentTypeXLSX, buf.Bytes())
}
