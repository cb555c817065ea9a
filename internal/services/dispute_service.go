package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"otcdesk/internal/models"
	"otcdesk/internal/snapshot"
)

// DisputeService is the record half of arbitration: the evidence and
// negotiation thread for a contested deal. The money half lives in the
// ledger's ResolveDispute; callers invoke both, in either order.
type DisputeService struct {
	mu       sync.Mutex
	disputes map[string]models.Dispute

	store      SnapshotStore
	deals      DealSource
	privileges Privileges
}

func NewDisputeService(state *snapshot.State, store SnapshotStore, deals DealSource, privileges Privileges) *DisputeService {
	disputes := make(map[string]models.Dispute, len(state.Disputes))
	for id, dispute := range state.Disputes {
		disputes[id] = dispute
	}
	return &DisputeService{
		disputes:   disputes,
		store:      store,
		deals:      deals,
		privileges: privileges,
	}
}

// Open creates the dispute record. At most one unresolved dispute may exist
// per deal.
func (s *DisputeService) Open(ctx context.Context, dealID, openerID, reason, comment string) (models.Dispute, error) {
	if reason == "" {
		return models.Dispute{}, fmt.Errorf("%w: reason required", ErrValidation)
	}
	deal, err := s.deals.Get(dealID)
	if err != nil {
		return models.Dispute{}, err
	}
	if !deal.IsParty(openerID) {
		return models.Dispute{}, fmt.Errorf("%w: not a party to this deal", ErrPermissionDenied)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.disputes {
		if existing.DealID == dealID && !existing.Resolved {
			return models.Dispute{}, fmt.Errorf("%w: deal already has an open dispute", ErrInvalidState)
		}
	}
	dispute := models.Dispute{
		ID:        uuid.NewString(),
		DealID:    dealID,
		OpenerID:  openerID,
		Reason:    reason,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	s.disputes[dispute.ID] = dispute
	if err := s.persistLocked(ctx); err != nil {
		delete(s.disputes, dispute.ID)
		return models.Dispute{}, err
	}
	return dispute, nil
}

func (s *DisputeService) Get(disputeID string) (models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disputeLocked(disputeID)
}

// GetByDeal returns the deal's unresolved dispute, or the latest resolved
// one when none is open.
func (s *DisputeService) GetByDeal(dealID string) (models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Dispute
	for id := range s.disputes {
		dispute := s.disputes[id]
		if dispute.DealID != dealID {
			continue
		}
		if !dispute.Resolved {
			return dispute, nil
		}
		if latest == nil || dispute.CreatedAt.After(latest.CreatedAt) {
			latest = &dispute
		}
	}
	if latest == nil {
		return models.Dispute{}, fmt.Errorf("%w: no dispute for deal %s", ErrNotFound, dealID)
	}
	return *latest, nil
}

// AddEvidence appends an evidence item. Parties and moderators only;
// resolved disputes are closed to new material.
func (s *DisputeService) AddEvidence(ctx context.Context, disputeID, authorID string, kind models.EvidenceKind, content string) (models.Dispute, error) {
	if content == "" {
		return models.Dispute{}, fmt.Errorf("%w: content required", ErrValidation)
	}
	switch kind {
	case models.EvidencePhoto, models.EvidenceDocument, models.EvidenceText:
	default:
		return models.Dispute{}, fmt.Errorf("%w: unknown evidence kind %q", ErrValidation, kind)
	}
	return s.appendLocked(ctx, disputeID, authorID, func(dispute *models.Dispute) {
		dispute.Evidence = append(dispute.Evidence, models.Evidence{
			Kind:      kind,
			AuthorID:  authorID,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		})
	})
}

// AddMessage appends to the negotiation thread.
func (s *DisputeService) AddMessage(ctx context.Context, disputeID, authorID, text string) (models.Dispute, error) {
	if text == "" {
		return models.Dispute{}, fmt.Errorf("%w: text required", ErrValidation)
	}
	return s.appendLocked(ctx, disputeID, authorID, func(dispute *models.Dispute) {
		dispute.Messages = append(dispute.Messages, models.DisputeMessage{
			AuthorID:  authorID,
			Text:      text,
			CreatedAt: time.Now().UTC(),
		})
	})
}

// Assign claims the dispute for a moderator. A second moderator cannot take
// an already-assigned dispute.
func (s *DisputeService) Assign(ctx context.Context, disputeID, moderatorID string) (models.Dispute, error) {
	if !s.privileges.IsModerator(moderatorID) {
		return models.Dispute{}, fmt.Errorf("%w: moderator required", ErrPermissionDenied)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dispute, err := s.disputeLocked(disputeID)
	if err != nil {
		return models.Dispute{}, err
	}
	if dispute.Resolved {
		return models.Dispute{}, fmt.Errorf("%w: dispute already resolved", ErrInvalidState)
	}
	if dispute.AssigneeID != "" && dispute.AssigneeID != moderatorID {
		return models.Dispute{}, fmt.Errorf("%w: dispute already assigned", ErrInvalidState)
	}
	if dispute.AssigneeID == moderatorID {
		return dispute, nil
	}
	now := time.Now().UTC()
	previous := dispute
	dispute.AssigneeID = moderatorID
	dispute.AssignedAt = &now
	s.disputes[disputeID] = dispute
	if err := s.persistLocked(ctx); err != nil {
		s.disputes[disputeID] = previous
		return models.Dispute{}, err
	}
	return dispute, nil
}

// Resolve records the final split. Terminal: a resolved dispute never
// reopens, and a retried resolve is a no-op success so it can be paired
// safely with the ledger's idempotent money half.
func (s *DisputeService) Resolve(ctx context.Context, disputeID, resolverID string, sellerAmt, buyerAmt decimal.Decimal) (models.Dispute, error) {
	if !s.privileges.IsModerator(resolverID) {
		return models.Dispute{}, fmt.Errorf("%w: moderator required", ErrPermissionDenied)
	}
	if sellerAmt.IsNegative() || buyerAmt.IsNegative() {
		return models.Dispute{}, fmt.Errorf("%w: split amounts must not be negative", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dispute, err := s.disputeLocked(disputeID)
	if err != nil {
		return models.Dispute{}, err
	}
	if dispute.Resolved {
		return dispute, nil
	}
	now := time.Now().UTC()
	previous := dispute
	dispute.Resolved = true
	dispute.ResolverID = resolverID
	dispute.SellerPayout = sellerAmt
	dispute.BuyerPayout = buyerAmt
	dispute.ResolvedAt = &now
	s.disputes[disputeID] = dispute
	if err := s.persistLocked(ctx); err != nil {
		s.disputes[disputeID] = previous
		return models.Dispute{}, err
	}
	return dispute, nil
}

func (s *DisputeService) ListOpen() []models.Dispute {
	s.mu.Lock()
	defer s.mu.Unlock()
	open := make([]models.Dispute, 0)
	for _, dispute := range s.disputes {
		if !dispute.Resolved {
			open = append(open, dispute)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open
}

func (s *DisputeService) appendLocked(ctx context.Context, disputeID, authorID string, apply func(*models.Dispute)) (models.Dispute, error) {
	s.mu.Lock()
	dispute, err := s.disputeLocked(disputeID)
	if err != nil {
		s.mu.Unlock()
		return models.Dispute{}, err
	}
	if dispute.Resolved {
		s.mu.Unlock()
		return models.Dispute{}, fmt.Errorf("%w: dispute already resolved", ErrInvalidState)
	}
	deal, err := s.deals.Get(dispute.DealID)
	if err != nil {
		s.mu.Unlock()
		return models.Dispute{}, err
	}
	if !deal.IsParty(authorID) && !s.privileges.IsModerator(authorID) {
		s.mu.Unlock()
		return models.Dispute{}, fmt.Errorf("%w: not a participant of this dispute", ErrPermissionDenied)
	}
	previous := dispute
	apply(&dispute)
	s.disputes[disputeID] = dispute
	if err := s.persistLocked(ctx); err != nil {
		s.disputes[disputeID] = previous
		s.mu.Unlock()
		return models.Dispute{}, err
	}
	s.mu.Unlock()
	return dispute, nil
}

func (s *DisputeService) disputeLocked(disputeID string) (models.Dispute, error) {
	dispute, ok := s.disputes[disputeID]
	if !ok {
		return models.Dispute{}, fmt.Errorf("%w: dispute %s", ErrNotFound, disputeID)
	}
	return dispute, nil
}

func (s *DisputeService) persistLocked(ctx context.Context) error {
	disputes := make(map[string]models.Dispute, len(s.disputes))
	for id, dispute := range s.disputes {
		disputes[id] = dispute
	}
	return s.store.Persist(ctx, snapshot.Patch{Disputes: &snapshot.DisputesSection{Disputes: disputes}})
}
