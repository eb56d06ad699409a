package transfer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/models"
	"github.com/goatkit/tickettransfer/internal/service/remoterpc"
)

const defaultMimetype = "application/octet-stream"

// DriverResult counts what one sub-resource driver did.
type DriverResult struct {
	Transferred int `json:"transferred"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// SubresourceSource lists a ticket's sub-resources.
type SubresourceSource interface {
	ListMessages(ctx context.Context, ticketID int) ([]*models.TicketMessage, error)
	ListFollowers(ctx context.Context, ticketID int) ([]*models.Follower, error)
	ListAttachments(ctx context.Context, ticketID int) ([]*models.Attachment, error)
}

// drivers replays sub-resources onto an already created remote ticket.
// Each item is independent: a failure is logged, counted and skipped.
type drivers struct {
	source   SubresourceSource
	remote   remoterpc.Invoker
	resolver *Resolver
	log      logrus.FieldLogger
	metrics  *transferMetrics
}

func (d *drivers) messages(ctx context.Context, ticketID, remoteID int) (DriverResult, error) {
	var res DriverResult
	msgs, err := d.source.ListMessages(ctx, ticketID)
	if err != nil {
		return res, err
	}

	for _, m := range msgs {
		_, err := d.remote.Invoke(ctx, ModelTicket, "message_post", []any{remoteID}, map[string]any{
			"body":         m.Body,
			"subject":      m.Subject,
			"message_type": m.MessageType,
		})
		if err != nil {
			res.Failed++
			d.log.WithError(err).WithFields(logrus.Fields{
				"message_id": m.ID,
				"author":     m.AuthorName,
			}).Warn("failed to transfer message")
			continue
		}
		res.Transferred++
	}
	d.metrics.items("messages", res)
	return res, nil
}

func (d *drivers) followers(ctx context.Context, ticketID, remoteID int) (DriverResult, error) {
	var res DriverResult
	followers, err := d.source.ListFollowers(ctx, ticketID)
	if err != nil {
		return res, err
	}

	for _, f := range followers {
		if f.Email == "" {
			res.Skipped++
			continue
		}
		partnerID, found, err := d.resolver.FindPartnerByEmail(ctx, f.Email)
		if err != nil {
			res.Failed++
			d.log.WithError(err).WithField("partner_id", f.PartnerID).Warn("failed to transfer follower")
			continue
		}
		if !found {
			res.Skipped++
			d.log.WithField("email", f.Email).Debug("follower has no partner on destination")
			continue
		}
		if _, err := d.remote.Invoke(ctx, ModelTicket, "message_subscribe", []any{remoteID, []int{partnerID}}, nil); err != nil {
			res.Failed++
			d.log.WithError(err).WithField("partner_id", f.PartnerID).Warn("failed to transfer follower")
			continue
		}
		res.Transferred++
	}
	d.metrics.items("followers", res)
	return res, nil
}

func (d *drivers) attachments(ctx context.Context, ticketID, remoteID int) (DriverResult, error) {
	var res DriverResult
	attachments, err := d.source.ListAttachments(ctx, ticketID)
	if err != nil {
		return res, err
	}

	for _, a := range attachments {
		entry := d.log.WithFields(logrus.Fields{"attachment_id": a.ID, "name": a.Name})
		if a.Datas == "" {
			res.Skipped++
			entry.Warn("attachment has no data, skipping")
			continue
		}
		mimetype := a.Mimetype
		if mimetype == "" {
			mimetype = defaultMimetype
		}
		_, err := d.remote.Invoke(ctx, ModelAttachment, "create", []any{map[string]any{
			"name":        a.Name,
			"datas":       a.Datas,
			"res_model":   ModelTicket,
			"res_id":      remoteID,
			"mimetype":    mimetype,
			"description": a.Description,
		}}, nil)
		if err != nil {
			res.Failed++
			entry.WithError(err).Error("failed to transfer attachment")
			continue
		}
		res.Transferred++
		entry.Info("transferred attachment")
	}
	d.metrics.items("attachments", res)
	return res, nil
}
