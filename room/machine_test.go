package room

import (
	"errors"
	"testing"
	"time"

	"escrowd/evidence"
)

func newTestRoom(status Status) *Room {
	buyer := "buyer-1"
	return &Room{
		RoomPhrase:     "amber bridge falcon slate",
		SellerID:       "seller-1",
		BuyerID:        &buyer,
		Amount:         500,
		Status:         status,
		CreatedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	}
}

func TestJoin_ClaimsBuyerSlot(t *testing.T) {
	r := newTestRoom(StatusWaitingForBuyer)
	r.BuyerID = nil

	joined, err := r.Join("buyer-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("expected join to succeed, got %v", err)
	}
	if !joined {
		t.Errorf("expected first buyer contact to claim the slot")
	}
	if r.Status != StatusAwaitingDescription {
		t.Errorf("expected AWAITING_DESCRIPTION, got %s", r.Status)
	}
	if r.BuyerID == nil || *r.BuyerID != "buyer-1" {
		t.Errorf("expected buyer slot to be claimed")
	}
	if r.BuyerJoinedAt == nil {
		t.Errorf("expected buyer_joined_at to be stamped")
	}
}

func TestJoin_SellerAndReturningBuyerAreNoOps(t *testing.T) {
	r := newTestRoom(StatusAwaitingDescription)

	joined, err := r.Join("seller-1", time.Now().UTC())
	if err != nil || joined {
		t.Errorf("expected seller join to be a no-op, got joined=%v err=%v", joined, err)
	}

	joined, err = r.Join("buyer-1", time.Now().UTC())
	if err != nil || joined {
		t.Errorf("expected returning buyer join to be a no-op, got joined=%v err=%v", joined, err)
	}
}

func TestJoin_ThirdUserRejected(t *testing.T) {
	r := newTestRoom(StatusAwaitingDescription)

	if _, err := r.Join("stranger", time.Now().UTC()); !errors.Is(err, ErrUnauthorizedParty) {
		t.Errorf("expected ErrUnauthorizedParty for third user, got %v", err)
	}
}

func TestNegotiation_TurnEnforcement(t *testing.T) {
	r := newTestRoom(StatusAwaitingDescription)

	if err := r.ProposeDescription("seller-1", "a blue bicycle"); !errors.Is(err, ErrUnauthorizedParty) {
		t.Fatalf("expected seller proposal to be rejected, got %v", err)
	}
	if err := r.ProposeDescription("buyer-1", "a blue bicycle"); err != nil {
		t.Fatalf("expected buyer proposal to succeed, got %v", err)
	}
	if r.Status != StatusAwaitingSellerApproval {
		t.Fatalf("expected AWAITING_SELLER_APPROVAL, got %s", r.Status)
	}

	// Buyer cannot act on the seller's turn.
	if err := r.ApproveDescription("buyer-1"); !errors.Is(err, ErrUnauthorizedParty) {
		t.Errorf("expected out-of-turn approve to be rejected, got %v", err)
	}
	if err := r.EditDescription("buyer-1", "a red bicycle"); !errors.Is(err, ErrUnauthorizedParty) {
		t.Errorf("expected out-of-turn edit to be rejected, got %v", err)
	}

	// Seller edit hands the turn back to the buyer.
	if err := r.EditDescription("seller-1", "a blue bicycle, slightly used"); err != nil {
		t.Fatalf("expected seller edit to succeed, got %v", err)
	}
	if r.Status != StatusAwaitingBuyerApproval {
		t.Fatalf("expected AWAITING_BUYER_APPROVAL, got %s", r.Status)
	}
	if err := r.ApproveDescription("seller-1"); !errors.Is(err, ErrUnauthorizedParty) {
		t.Errorf("expected seller approve on buyer's turn to be rejected, got %v", err)
	}

	// Approval always applies to the latest text.
	if err := r.ApproveDescription("buyer-1"); err != nil {
		t.Fatalf("expected buyer approve to succeed, got %v", err)
	}
	if r.Status != StatusAwaitingSellerReady {
		t.Errorf("expected AWAITING_SELLER_READY, got %s", r.Status)
	}
	if r.Description != "a blue bicycle, slightly used" {
		t.Errorf("expected latest text to stand, got %q", r.Description)
	}
}

func TestProposeDescription_EmptyRejected(t *testing.T) {
	r := newTestRoom(StatusAwaitingDescription)
	if err := r.ProposeDescription("buyer-1", "   "); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected blank description to be rejected, got %v", err)
	}
}

func TestConfirmSellerReady(t *testing.T) {
	r := newTestRoom(StatusAwaitingSellerReady)

	if err := r.ConfirmSellerReady("buyer-1"); !errors.Is(err, ErrUnauthorizedParty) {
		t.Errorf("expected buyer confirm to be rejected, got %v", err)
	}
	if err := r.ConfirmSellerReady("seller-1"); err != nil {
		t.Fatalf("expected seller confirm to succeed, got %v", err)
	}
	if r.Status != StatusAwaitingPayment {
		t.Errorf("expected AWAITING_PAYMENT, got %s", r.Status)
	}
}

func TestOpenDispute(t *testing.T) {
	r := newTestRoom(StatusProductDelivered)
	required := []string{"shipping_receipt", "delivery_confirmation"}

	if err := r.OpenDispute("seller-1", "PHYSICAL_GOODS", required); !errors.Is(err, ErrUnauthorizedParty) {
		t.Errorf("expected seller dispute to be rejected, got %v", err)
	}
	if err := r.OpenDispute("buyer-1", "PHYSICAL_GOODS", required); err != nil {
		t.Fatalf("expected buyer dispute to succeed, got %v", err)
	}
	if r.Status != StatusDispute {
		t.Errorf("expected DISPUTE, got %s", r.Status)
	}
	if r.DisputeStatus == nil || *r.DisputeStatus != DisputeAwaitingEvidence {
		t.Errorf("expected AWAITING_EVIDENCE sub-state")
	}

	// A second dispute against the same room is illegal.
	if err := r.OpenDispute("buyer-1", "PHYSICAL_GOODS", required); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected repeated dispute to be rejected, got %v", err)
	}
}

func TestEvidenceFlow(t *testing.T) {
	r := newTestRoom(StatusProductDelivered)
	required := []string{"shipping_receipt", "delivery_confirmation"}
	if err := r.OpenDispute("buyer-1", "PHYSICAL_GOODS", required); err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	sub := evidence.Submission{EvidenceType: "shipping_receipt", Filename: "receipt.pdf", Path: "uploads/x/receipt.pdf"}
	if err := r.SubmitEvidence("buyer-1", sub); !errors.Is(err, ErrUnauthorizedParty) {
		t.Errorf("expected buyer upload to be rejected, got %v", err)
	}
	if err := r.SubmitEvidence("seller-1", sub); err != nil {
		t.Fatalf("expected seller upload to succeed, got %v", err)
	}

	if err := r.FinalizeSubmission("seller-1"); !errors.Is(err, ErrIncompleteEvidence) {
		t.Fatalf("expected finalize with missing evidence to fail, got %v", err)
	}
	if r.DisputeStatus == nil || *r.DisputeStatus != DisputeAwaitingEvidence {
		t.Fatalf("expected dispute sub-state unchanged after failed finalize")
	}

	second := evidence.Submission{EvidenceType: "delivery_confirmation", Filename: "proof.png", Path: "uploads/x/proof.png"}
	if err := r.SubmitEvidence("seller-1", second); err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if err := r.FinalizeSubmission("seller-1"); err != nil {
		t.Fatalf("expected finalize to succeed, got %v", err)
	}
	if *r.DisputeStatus != DisputeAwaitingAIDecision {
		t.Errorf("expected AWAITING_AI_DECISION, got %s", *r.DisputeStatus)
	}

	// Evidence window is closed once the case is with the arbiter.
	if err := r.SubmitEvidence("seller-1", sub); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected late upload to be rejected, got %v", err)
	}
}

func TestTerminalRoomRejectsIntents(t *testing.T) {
	r := newTestRoom(StatusComplete)

	if err := r.ProposeDescription("buyer-1", "anything"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected proposal on complete room to fail, got %v", err)
	}
	if _, err := r.Join("stranger", time.Now().UTC()); err == nil {
		t.Errorf("expected join on complete room to fail")
	}
	if err := r.OpenDispute("buyer-1", "OTHER", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected dispute on complete room to fail, got %v", err)
	}
}
