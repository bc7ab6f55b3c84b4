package room

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"escrowd/contract"
	"escrowd/evidence"
)

var (
	// ErrNotFound is returned when no room exists for the phrase.
	ErrNotFound = errors.New("room: not found")
	// ErrInvalidTransition signals an intent that is not legal for the
	// current state. The room is left unchanged.
	ErrInvalidTransition = errors.New("room: invalid transition")
	// ErrUnauthorizedParty signals the acting user may not perform this
	// intent in this room.
	ErrUnauthorizedParty = errors.New("room: unauthorized party")
	// ErrIncompleteEvidence signals finalize was attempted before every
	// required evidence type had a submission.
	ErrIncompleteEvidence = errors.New("room: incomplete evidence")
	// ErrUnknownIntent signals an intent type outside the protocol. Answered
	// with a warning; the room is untouched and the session stays open.
	ErrUnknownIntent = errors.New("room: unknown intent type")
	// ErrMissingContract signals a release attempt against a room whose
	// contract document is absent. This is an internal fault, never a
	// client error.
	ErrMissingContract = errors.New("room: contract missing")
)

// Join validates a connection attempt and, for the first buyer, claims the
// buyer slot and advances the room out of WAITING_FOR_BUYER. Returns whether
// the caller joined as a new buyer.
func (r *Room) Join(userID string, now time.Time) (bool, error) {
	if userID == r.SellerID {
		return false, nil
	}
	if r.BuyerID != nil {
		if *r.BuyerID == userID {
			return false, nil
		}
		return false, fmt.Errorf("%w: room already has a buyer", ErrUnauthorizedParty)
	}
	if r.Status != StatusWaitingForBuyer {
		return false, fmt.Errorf("%w: buyer slot closed in %s", ErrInvalidTransition, r.Status)
	}
	buyer := userID
	r.BuyerID = &buyer
	r.BuyerJoinedAt = &now
	r.Status = StatusAwaitingDescription
	return true, nil
}

// ProposeDescription starts the negotiation loop. Buyer-only, legal in
// AWAITING_DESCRIPTION.
func (r *Room) ProposeDescription(userID, text string) error {
	role, ok := r.RoleOf(userID)
	if !ok {
		return fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
	}
	if role != RoleBuyer {
		return fmt.Errorf("%w: only the buyer proposes the description", ErrUnauthorizedParty)
	}
	if r.Status != StatusAwaitingDescription {
		return fmt.Errorf("%w: propose_description in %s", ErrInvalidTransition, r.Status)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty description", ErrInvalidTransition)
	}
	r.Description = text
	r.Status = StatusAwaitingSellerApproval
	return nil
}

// ApproveDescription accepts the latest proposal. Only the turn holder may
// approve; approval always applies to the most recent text.
func (r *Room) ApproveDescription(userID string) error {
	role, ok := r.RoleOf(userID)
	if !ok {
		return fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
	}
	turn, negotiating := r.Turn()
	if !negotiating {
		return fmt.Errorf("%w: approve_description in %s", ErrInvalidTransition, r.Status)
	}
	if role != turn {
		return fmt.Errorf("%w: not %s's turn", ErrUnauthorizedParty, role)
	}
	r.Status = StatusAwaitingSellerReady
	return nil
}

// EditDescription counter-proposes new text and hands the turn to the other
// party. The loop has no iteration cap.
func (r *Room) EditDescription(userID, text string) error {
	role, ok := r.RoleOf(userID)
	if !ok {
		return fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
	}
	turn, negotiating := r.Turn()
	if !negotiating {
		return fmt.Errorf("%w: edit_description in %s", ErrInvalidTransition, r.Status)
	}
	if role != turn {
		return fmt.Errorf("%w: not %s's turn", ErrUnauthorizedParty, role)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty description", ErrInvalidTransition)
	}
	r.Description = text
	if role == RoleSeller {
		r.Status = StatusAwaitingBuyerApproval
	} else {
		r.Status = StatusAwaitingSellerApproval
	}
	return nil
}

// ConfirmSellerReady is the seller's explicit go-ahead before payment.
func (r *Room) ConfirmSellerReady(userID string) error {
	role, ok := r.RoleOf(userID)
	if !ok {
		return fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
	}
	if role != RoleSeller {
		return fmt.Errorf("%w: only the seller confirms readiness", ErrUnauthorizedParty)
	}
	if r.Status != StatusAwaitingSellerReady {
		return fmt.Errorf("%w: confirm_seller_ready in %s", ErrInvalidTransition, r.Status)
	}
	r.Status = StatusAwaitingPayment
	return nil
}

// validateLockFunds checks role and state before any wallet mutation.
func (r *Room) validateLockFunds(userID string) error {
	role, ok := r.RoleOf(userID)
	if !ok {
		return fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
	}
	if role != RoleBuyer {
		return fmt.Errorf("%w: only the buyer locks funds", ErrUnauthorizedParty)
	}
	if r.Status != StatusAwaitingPayment {
		return fmt.Errorf("%w: buyer_lock_funds in %s", ErrInvalidTransition, r.Status)
	}
	return nil
}

// secureFunds attaches the freshly created contract once the wallet lock has
// succeeded in the same transaction.
func (r *Room) secureFunds(c *contract.Contract, now time.Time) {
	r.Contract = c
	r.Status = StatusMoneySecured
	r.FundsLockedAt = &now
}

// validateDelivery checks role and state for the seller's delivery claim.
func (r *Room) validateDelivery(userID string) error {
	role, ok := r.RoleOf(userID)
	if !ok {
		return fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
	}
	if role != RoleSeller {
		return fmt.Errorf("%w: only the seller marks delivery", ErrUnauthorizedParty)
	}
	if r.Status != StatusMoneySecured {
		return fmt.Errorf("%w: product_delivered in %s", ErrInvalidTransition, r.Status)
	}
	if r.Contract == nil {
		return ErrMissingContract
	}
	return nil
}

func (r *Room) markDelivered(now time.Time) {
	r.Status = StatusProductDelivered
	r.DeliveredAt = &now
}

// validateBuyerRelease checks role and state for the buyer's release co-sign.
func (r *Room) validateBuyerRelease(userID string) error {
	role, ok := r.RoleOf(userID)
	if !ok {
		return fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
	}
	if role != RoleBuyer {
		return fmt.Errorf("%w: only the buyer confirms receipt", ErrUnauthorizedParty)
	}
	if r.Status != StatusProductDelivered {
		return fmt.Errorf("%w: transaction_successfull in %s", ErrInvalidTransition, r.Status)
	}
	if r.Contract == nil {
		return ErrMissingContract
	}
	return nil
}

// validateBuyerRefund checks the buyer's refund co-sign, legal only while the
// room is in dispute.
func (r *Room) validateBuyerRefund(userID string) error {
	role, ok := r.RoleOf(userID)
	if !ok {
		return fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
	}
	if role != RoleBuyer {
		return fmt.Errorf("%w: only the buyer confirms a refund", ErrUnauthorizedParty)
	}
	if r.Status != StatusDispute {
		return fmt.Errorf("%w: confirm_refund in %s", ErrInvalidTransition, r.Status)
	}
	if r.Contract == nil {
		return ErrMissingContract
	}
	return nil
}

// OpenDispute moves the room into arbitration and records what the seller
// must prove.
func (r *Room) OpenDispute(userID, category string, required []string) error {
	role, ok := r.RoleOf(userID)
	if !ok {
		return fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
	}
	if role != RoleBuyer {
		return fmt.Errorf("%w: only the buyer opens a dispute", ErrUnauthorizedParty)
	}
	if r.Status != StatusProductDelivered {
		return fmt.Errorf("%w: init_dispute in %s", ErrInvalidTransition, r.Status)
	}
	ds := DisputeAwaitingEvidence
	r.Status = StatusDispute
	r.DisputeStatus = &ds
	r.Category = category
	r.RequiredEvidence = required
	if r.SubmittedEvidence == nil {
		r.SubmittedEvidence = evidence.Set{}
	}
	return nil
}

// SubmitEvidence records a seller upload while the dispute collects evidence.
func (r *Room) SubmitEvidence(userID string, sub evidence.Submission) error {
	role, ok := r.RoleOf(userID)
	if !ok {
		return fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
	}
	if role != RoleSeller {
		return fmt.Errorf("%w: only the seller uploads evidence", ErrUnauthorizedParty)
	}
	if r.Status != StatusDispute || r.DisputeStatus == nil || *r.DisputeStatus != DisputeAwaitingEvidence {
		return fmt.Errorf("%w: evidence upload outside AWAITING_EVIDENCE", ErrInvalidTransition)
	}
	if r.SubmittedEvidence == nil {
		r.SubmittedEvidence = evidence.Set{}
	}
	if _, err := r.SubmittedEvidence.Submit(r.RequiredEvidence, sub); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return nil
}

// FinalizeSubmission hands the evidence bundle to arbitration once complete.
func (r *Room) FinalizeSubmission(userID string) error {
	role, ok := r.RoleOf(userID)
	if !ok {
		return fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
	}
	if role != RoleSeller {
		return fmt.Errorf("%w: only the seller finalizes evidence", ErrUnauthorizedParty)
	}
	if r.Status != StatusDispute || r.DisputeStatus == nil || *r.DisputeStatus != DisputeAwaitingEvidence {
		return fmt.Errorf("%w: finalize_submission outside AWAITING_EVIDENCE", ErrInvalidTransition)
	}
	if !r.SubmittedEvidence.Complete(r.RequiredEvidence) {
		return fmt.Errorf("%w: missing %v", ErrIncompleteEvidence, r.SubmittedEvidence.Missing(r.RequiredEvidence))
	}
	ds := DisputeAwaitingAIDecision
	r.DisputeStatus = &ds
	return nil
}

// complete marks the room terminal after the contract executed.
func (r *Room) complete(now time.Time) {
	r.Status = StatusComplete
	r.CompletedAt = &now
	if r.DisputeStatus != nil {
		ds := DisputeResolved
		r.DisputeStatus = &ds
	}
}

// appendSystemMessage adds an admin line to the transcript.
func (r *Room) appendSystemMessage(text string, now time.Time) Message {
	msg := Message{Type: "admin_message", Message: text, Timestamp: now}
	r.Messages = append(r.Messages, msg)
	return msg
}

// appendChatMessage adds a user chat line to the transcript.
func (r *Room) appendChatMessage(senderID, senderUsername, text string, now time.Time) Message {
	msg := Message{
		Type:           "chat_message",
		SenderID:       senderID,
		SenderUsername: senderUsername,
		Message:        text,
		Timestamp:      now,
	}
	r.Messages = append(r.Messages, msg)
	return msg
}
