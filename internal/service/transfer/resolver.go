package transfer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/models"
	"github.com/goatkit/tickettransfer/internal/service/remoterpc"
)

// Remote model names used on the destination.
const (
	ModelPartner    = "res.partner"
	ModelStage      = "helpdesk.stage"
	ModelTicket     = "helpdesk.ticket"
	ModelAttachment = "ir.attachment"
)

// Resolver maps local identities onto destination records by natural key.
type Resolver struct {
	remote remoterpc.Invoker
	log    logrus.FieldLogger
}

// NewResolver creates a resolver bound to one destination.
func NewResolver(remote remoterpc.Invoker, log logrus.FieldLogger) *Resolver {
	return &Resolver{remote: remote, log: log}
}

// FindPartnerByEmail searches the destination for an exact email match.
// It never creates a partner.
func (r *Resolver) FindPartnerByEmail(ctx context.Context, email string) (int, bool, error) {
	if email == "" {
		return 0, false, nil
	}
	return r.searchOne(ctx, ModelPartner, "email", email)
}

// ResolvePartner returns the destination partner for d. With an email the
// destination is searched first; a miss (or no email) with a name creates
// the partner. A descriptor with neither resolves to nothing.
func (r *Resolver) ResolvePartner(ctx context.Context, d *models.PartnerDescriptor) (int, bool, error) {
	if d.Empty() {
		return 0, false, nil
	}

	if d.Email != "" {
		id, ok, err := r.FindPartnerByEmail(ctx, d.Email)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return id, true, nil
		}
	}
	if d.Name == "" {
		return 0, false, nil
	}

	raw, err := r.remote.Invoke(ctx, ModelPartner, "create", []any{map[string]any{
		"name":  d.Name,
		"email": d.Email,
		"phone": d.Phone,
	}}, nil)
	if err != nil {
		return 0, false, err
	}
	id, err := remoterpc.DecodeID(raw)
	if err != nil {
		return 0, false, fmt.Errorf("decode partner id: %w", err)
	}
	return id, true, nil
}

// PartnerResolution is the outcome of resolving the requester and the
// configured substitution partners.
type PartnerResolution struct {
	PartnerID    *int
	ChildID      *int
	ParentID     *int
	ParentLinked bool
	Warnings     []string
}

// ResolvePartners resolves the requester, then the child partner (which
// replaces the requester), then the parent. When child and parent both
// resolve the child is linked to the parent. Individual failures become
// warnings; only an authentication failure is returned.
func (r *Resolver) ResolvePartners(ctx context.Context, snap models.TicketSnapshot) (PartnerResolution, error) {
	var res PartnerResolution

	resolve := func(role string, d *models.PartnerDescriptor) (*int, error) {
		if d.Empty() {
			return nil, nil
		}
		id, ok, err := r.ResolvePartner(ctx, d)
		if err != nil {
			if remoterpc.IsAuthentication(err) {
				return nil, err
			}
			r.log.WithError(err).WithField("role", role).Warn("could not find or create partner")
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s partner: %v", role, err))
			return nil, nil
		}
		if !ok {
			return nil, nil
		}
		return &id, nil
	}

	var err error
	if res.PartnerID, err = resolve("requester", snap.Requester); err != nil {
		return res, err
	}
	if res.ChildID, err = resolve("child", snap.ChildPartner); err != nil {
		return res, err
	}
	if res.ChildID != nil {
		res.PartnerID = res.ChildID
	}
	if res.ParentID, err = resolve("parent", snap.ParentPartner); err != nil {
		return res, err
	}

	if res.ChildID != nil && res.ParentID != nil {
		_, err := r.remote.Invoke(ctx, ModelPartner, "write",
			[]any{[]int{*res.ChildID}, map[string]any{"parent_id": *res.ParentID}}, nil)
		if err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"child_id":  *res.ChildID,
				"parent_id": *res.ParentID,
			}).Warn("could not set parent relationship")
			res.Warnings = append(res.Warnings, fmt.Sprintf("parent relationship: %v", err))
		} else {
			res.ParentLinked = true
		}
	}
	return res, nil
}

// ResolveStage maps the ticket's local stage to a destination stage id.
// A missing mapping skips resolution silently; a mapped name that does not
// exist remotely yields a warning. Only authentication failures are returned.
func (r *Resolver) ResolveStage(ctx context.Context, cfg *models.TransferConfig, snap models.TicketSnapshot) (*int, string, error) {
	if snap.StageID == nil {
		return nil, "", nil
	}
	mapping, ok := cfg.StageMappingFor(*snap.StageID)
	if !ok {
		r.log.WithField("source_stage", snap.StageName).Debug("no stage mapping configured")
		return nil, "", nil
	}

	id, found, err := r.searchOne(ctx, ModelStage, "name", mapping.DestinationStageName)
	if err != nil {
		if remoterpc.IsAuthentication(err) {
			return nil, "", err
		}
		r.log.WithError(err).Warn("could not map stage")
		return nil, fmt.Sprintf("stage mapping: %v", err), nil
	}
	if !found {
		warning := fmt.Sprintf("destination stage %q not found on remote system", mapping.DestinationStageName)
		r.log.WithField("destination_stage", mapping.DestinationStageName).Warn(warning)
		return nil, warning, nil
	}

	r.log.WithFields(logrus.Fields{
		"source_stage":      snap.StageName,
		"destination_stage": mapping.DestinationStageName,
	}).Info("mapped stage")
	return &id, "", nil
}

func (r *Resolver) searchOne(ctx context.Context, model, field, value string) (int, bool, error) {
	raw, err := r.remote.Invoke(ctx, model, "search",
		[]any{[]any{[]any{field, "=", value}}},
		map[string]any{"limit": 1})
	if err != nil {
		return 0, false, err
	}
	ids, err := remoterpc.DecodeIDs(raw)
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}
