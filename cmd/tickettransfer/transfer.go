package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/goatkit/tickettransfer/internal/instrument"
	"github.com/goatkit/tickettransfer/internal/service/transfer"
)

var (
	transferTickets     []int
	transferConfigID    int
	transferUserID      int
	transferWorkers     int
	transferNotes       string
	transferNoMessages  bool
	transferNoFollowers bool
	transferNoFiles     bool
	transferNoNote      bool
	transferClose       bool
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Transfer one or more tickets to a destination",
	Example: `  tickettransfer transfer --ticket 42 --config 1
  tickettransfer transfer --ticket 42,43,44 --config 1 --workers 3 --close`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(transferTickets) == 0 {
			return errors.New("--ticket is required")
		}
		ctx := rootCtx
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(transferTickets) == 1 {
			svc := a.transferService(a.timeoutLogs)
			out, err := svc.Transfer(ctx, buildTransferRequest(transferTickets[0]))
			if err != nil {
				return err
			}
			printOutcome(cmd, transferTickets[0], out)
			return nil
		}
		return runBulkTransfer(ctx, cmd, a)
	},
}

func buildTransferRequest(ticketID int) transfer.Request {
	req := transfer.NewRequest(ticketID, transferConfigID)
	req.ActorID = transferUserID
	req.Annotation = transferNotes
	req.Messages = !transferNoMessages
	req.Followers = !transferNoFollowers
	req.Attachments = !transferNoFiles
	req.AddNote = !transferNoNote
	req.CloseSource = transferClose
	return req
}

// runBulkTransfer runs independent transfers on a bounded pool. Timeout log
// entries go through a second single-worker pool, each in its own
// transaction; sharing the transfer pool could block a worker on itself.
func runBulkTransfer(ctx context.Context, cmd *cobra.Command, a *app) error {
	pool := instrument.NewPool(ctx, nil, transferWorkers, log)
	logs := instrument.NewPool(ctx, a.db, 1, log)
	svc := a.transferService(instrument.NewPoolRecorder(logs, writeTimeoutLog))
	progress := instrument.NewProgressTracker("transfer", len(transferTickets), log)

	var mu sync.Mutex
	for _, id := range transferTickets {
		pool.Submit(fmt.Sprintf("ticket %d", id), func(ctx context.Context) error {
			out, err := svc.Transfer(ctx, buildTransferRequest(id))
			progress.Add(1)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			printOutcome(cmd, id, out)
			return nil
		})
	}

	err := pool.Wait()
	done := progress.Finish()
	printf(cmd, "%d tickets processed in %s\n", done.Done, done.Elapsed.Round(time.Millisecond))
	if logErr := logs.Wait(); logErr != nil {
		log.WithError(logErr).Warn("some timeout log entries were not stored")
	}
	return err
}

func printOutcome(cmd *cobra.Command, ticketID int, out *transfer.Outcome) {
	printf(cmd, "Ticket %d -> remote #%d %s\n", ticketID, out.RemoteTicketID, out.RemoteURL)
	printf(cmd, "  messages %d, followers %d, attachments %d\n",
		out.Messages.Transferred, out.Followers.Transferred, out.Attachments.Transferred)
	if out.SourceClosed {
		printf(cmd, "  source ticket closed\n")
	}
	if len(out.Warnings) > 0 {
		printf(cmd, "  warnings: %s\n", strings.Join(out.Warnings, "; "))
	}
}

func init() {
	f := transferCmd.Flags()
	f.IntSliceVarP(&transferTickets, "ticket", "t", nil, "Ticket id(s) to transfer")
	f.IntVar(&transferConfigID, "config", 0, "Destination configuration id")
	f.IntVar(&transferUserID, "user", 0, "Acting user id recorded in history")
	f.IntVar(&transferWorkers, "workers", 2, "Parallel transfers for multiple tickets")
	f.StringVar(&transferNotes, "notes", "", "Annotation stored with the history row")
	f.BoolVar(&transferNoMessages, "no-messages", false, "Skip the conversation log")
	f.BoolVar(&transferNoFollowers, "no-followers", false, "Skip followers")
	f.BoolVar(&transferNoFiles, "no-attachments", false, "Skip attachments")
	f.BoolVar(&transferNoNote, "no-note", false, "Do not post a note on the source ticket")
	f.BoolVar(&transferClose, "close", false, "Move the source ticket to its closing stage")
	_ = transferCmd.MarkFlagRequired("config")
}
