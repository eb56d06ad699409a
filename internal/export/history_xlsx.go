// Package export renders transfer history as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/goatkit/tickettransfer/internal/history"
	"github.com/goatkit/tickettransfer/internal/models"
)

const (
	HistorySheet = "Transfers"
	SummarySheet = "Summary"
	// ContentTypeXLSX is the media type of WriteHistoryXLSX output.
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var historyHeader = []any{
	"ID", "Run", "Ticket", "Destination", "Date", "User", "Remote Ticket", "Remote URL",
	"Status", "Messages", "Followers", "Attachments", "Notes",
}

// WriteHistoryXLSX writes rows to w as a workbook with a transfer sheet and
// a per-status summary sheet.
func WriteHistoryXLSX(w io.Writer, rows []*models.TransferHistory) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", HistorySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(HistorySheet, "A1", &historyHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	if err := f.SetRowStyle(HistorySheet, 1, 1, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	counts := map[models.TransferStatus]int{}
	for i, h := range rows {
		counts[h.Status]++
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			h.ID, h.RunID, h.TicketID, configLabel(h), h.TransferDate.UTC().Format("2006-01-02 15:04:05"),
			h.TransferredBy, optionalInt(h.RemoteTicketID), optionalString(h.RemoteTicketURL),
			history.StatusLabel(h.Status), h.MessagesTransferred, h.FollowersTransferred,
			h.AttachmentsTransferred, h.Notes,
		}
		if err := f.SetSheetRow(HistorySheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", h.ID, err)
		}
	}
	if err := f.AutoFilter(HistorySheet, fmt.Sprintf("A1:M%d", len(rows)+1), nil); err != nil {
		return fmt.Errorf("autofilter: %w", err)
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	summary := [][]any{
		{"Status", "Transfers"},
		{history.StatusLabel(models.TransferStatusSuccess), counts[models.TransferStatusSuccess]},
		{history.StatusLabel(models.TransferStatusFailed), counts[models.TransferStatusFailed]},
		{history.StatusLabel(models.TransferStatusPartial), counts[models.TransferStatusPartial]},
		{"Total", len(rows)},
	}
	for i, row := range summary {
		if err := f.SetSheetRow(SummarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func configLabel(h *models.TransferHistory) string {
	if h.ConfigName != "" {
		return h.ConfigName
	}
	return fmt.Sprintf("#%d", h.ConfigID)
}

func optionalInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func optionalString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
