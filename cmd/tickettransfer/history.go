package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"

	"github.com/goatkit/tickettransfer/internal/export"
	"github.com/goatkit/tickettransfer/internal/history"
	"github.com/goatkit/tickettransfer/internal/models"
)

var (
	historyTicket int
	historyLimit  int
	historyXLSX   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show transfer history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := rootCtx
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var rows []*models.TransferHistory
		if historyTicket > 0 {
			rows, err = a.history.ListByTicket(ctx, historyTicket)
		} else {
			rows, err = a.history.ListRecent(ctx, historyLimit)
		}
		if err != nil {
			return err
		}

		if historyXLSX != "" {
			f, err := os.Create(historyXLSX)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := export.WriteHistoryXLSX(f, rows); err != nil {
				return err
			}
			printf(cmd, "Wrote %d rows to %s\n", len(rows), historyXLSX)
			return nil
		}

		if historyTicket > 0 {
			printf(cmd, "Ticket %d has been transferred %d time(s)\n", historyTicket, len(rows))
		}
		renderHistory(cmd.OutOrStdout(), rows)
		return nil
	},
}

func renderHistory(w io.Writer, rows []*models.TransferHistory) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Ticket", "Destination", "When", "Status", "Remote", "Summary"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, h := range rows {
		remote := ""
		if h.RemoteTicketID != nil {
			remote = "#" + strconv.Itoa(*h.RemoteTicketID)
		}
		dest := h.ConfigName
		if dest == "" {
			dest = fmt.Sprintf("#%d", h.ConfigID)
		}
		table.Append([]string{
			strconv.FormatInt(h.ID, 10),
			strconv.Itoa(h.TicketID),
			dest,
			timeago.English.Format(h.TransferDate),
			history.StatusLabel(h.Status),
			remote,
			history.Summary(h),
		})
	}
	table.Render()
}

func init() {
	historyCmd.Flags().IntVar(&historyTicket, "ticket", 0, "Only show transfers of this ticket")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of recent transfers to show")
	historyCmd.Flags().StringVar(&historyXLSX, "xlsx", "", "Write the rows to this spreadsheet instead of printing")
}
