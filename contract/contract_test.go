package contract

import (
	"errors"
	"testing"
	"time"

	"escrowd/signing"
)

type testParties struct {
	buyer  signing.Keypair
	seller signing.Keypair
	ai     signing.Keypair
}

func newTestContract(t *testing.T) (*Contract, testParties) {
	t.Helper()
	buyer, _ := signing.GenerateKeypair()
	seller, _ := signing.GenerateKeypair()
	ai, _ := signing.GenerateKeypair()

	c := New("buyer-1", "seller-1", 500,
		buyer.PublicKeyHex, seller.PublicKeyHex, ai.PublicKeyHex,
		24*time.Hour)
	return c, testParties{buyer: buyer, seller: seller, ai: ai}
}

func signFor(t *testing.T, c *Contract, kp signing.Keypair, party Party, decision Decision) string {
	t.Helper()
	sig, err := signing.Sign(kp.PrivateKeyHex, c.Message(party, decision))
	if err != nil {
		t.Fatalf("sign message: %v", err)
	}
	return sig
}

func TestSingleSignatureDoesNotReachThreshold(t *testing.T) {
	c, parties := newTestContract(t)

	sig := signFor(t, c, parties.buyer, PartyBuyer, ReleaseToSeller)
	if err := c.Sign(PartyBuyer, ReleaseToSeller, sig); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, ok := c.DecisionReached(); ok {
		t.Fatalf("one verified signature must not reach threshold")
	}
	if c.Status != StatusPending {
		t.Errorf("status = %s, want PENDING", c.Status)
	}
}

func TestTwoAgreeingSignaturesRelease(t *testing.T) {
	c, parties := newTestContract(t)

	if err := c.Sign(PartySeller, ReleaseToSeller, signFor(t, c, parties.seller, PartySeller, ReleaseToSeller)); err != nil {
		t.Fatalf("seller sign: %v", err)
	}
	if err := c.Sign(PartyBuyer, ReleaseToSeller, signFor(t, c, parties.buyer, PartyBuyer, ReleaseToSeller)); err != nil {
		t.Fatalf("buyer sign: %v", err)
	}

	decision, ok := c.DecisionReached()
	if !ok || decision != ReleaseToSeller {
		t.Fatalf("expected RELEASE_TO_SELLER threshold, got %q ok=%v", decision, ok)
	}

	recipient, err := c.Execute(decision)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if recipient != "seller-1" {
		t.Errorf("recipient = %s, want seller-1", recipient)
	}
	if c.Status != StatusCompleted || c.FundsLocked || c.ReleasedTo != "seller-1" || c.ReleasedAt == nil {
		t.Errorf("contract not finalized: %+v", c)
	}
}

func TestConflictingDecisionsNeverCombine(t *testing.T) {
	c, parties := newTestContract(t)

	if err := c.Sign(PartySeller, ReleaseToSeller, signFor(t, c, parties.seller, PartySeller, ReleaseToSeller)); err != nil {
		t.Fatalf("seller sign: %v", err)
	}
	if err := c.Sign(PartyBuyer, RefundToBuyer, signFor(t, c, parties.buyer, PartyBuyer, RefundToBuyer)); err != nil {
		t.Fatalf("buyer sign: %v", err)
	}

	if _, ok := c.DecisionReached(); ok {
		t.Fatalf("conflicting decisions must not reach threshold")
	}

	// The AI oracle's vote is the tie breaker.
	if err := c.Sign(PartyAIOracle, RefundToBuyer, signFor(t, c, parties.ai, PartyAIOracle, RefundToBuyer)); err != nil {
		t.Fatalf("ai sign: %v", err)
	}
	decision, ok := c.DecisionReached()
	if !ok || decision != RefundToBuyer {
		t.Fatalf("expected REFUND_TO_BUYER threshold, got %q ok=%v", decision, ok)
	}
}

func TestInvalidSignatureRecordedUnverified(t *testing.T) {
	c, parties := newTestContract(t)

	// Signature produced with the seller's key but submitted as the buyer's.
	forged := signFor(t, c, parties.seller, PartyBuyer, ReleaseToSeller)
	err := c.Sign(PartyBuyer, ReleaseToSeller, forged)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}

	sig := c.Signatures[PartyBuyer]
	if sig.Verified {
		t.Errorf("forged signature must be recorded unverified")
	}
	if sig.SignatureHex != forged {
		t.Errorf("forged signature bytes should be retained for audit")
	}
	if _, ok := c.DecisionReached(); ok {
		t.Errorf("unverified signature must not advance threshold")
	}
}

func TestSignAfterCompletionRejected(t *testing.T) {
	c, parties := newTestContract(t)

	c.Sign(PartySeller, ReleaseToSeller, signFor(t, c, parties.seller, PartySeller, ReleaseToSeller))
	c.Sign(PartyBuyer, ReleaseToSeller, signFor(t, c, parties.buyer, PartyBuyer, ReleaseToSeller))
	if _, err := c.Execute(ReleaseToSeller); err != nil {
		t.Fatalf("execute: %v", err)
	}

	err := c.Sign(PartyAIOracle, RefundToBuyer, signFor(t, c, parties.ai, PartyAIOracle, RefundToBuyer))
	if !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
	if _, err := c.Execute(RefundToBuyer); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending on double execute, got %v", err)
	}
}

func TestTimeoutImplicitSignatureCountsTowardThreshold(t *testing.T) {
	c, parties := newTestContract(t)

	if err := c.Sign(PartyAIOracle, RefundToBuyer, signFor(t, c, parties.ai, PartyAIOracle, RefundToBuyer)); err != nil {
		t.Fatalf("ai sign: %v", err)
	}
	if err := c.ApplyTimeoutDefault(PartyBuyer, RefundToBuyer); err != nil {
		t.Fatalf("timeout default: %v", err)
	}

	decision, ok := c.DecisionReached()
	if !ok || decision != RefundToBuyer {
		t.Fatalf("expected REFUND_TO_BUYER threshold, got %q ok=%v", decision, ok)
	}
	if c.Signatures[PartyBuyer].Kind != SignatureKindTimeoutImplicit {
		t.Errorf("implicit signature should carry the TIMEOUT_IMPLICIT kind")
	}
}

func TestTimeoutDefaultDoesNotOverrideVerifiedSignature(t *testing.T) {
	c, parties := newTestContract(t)

	if err := c.Sign(PartyBuyer, ReleaseToSeller, signFor(t, c, parties.buyer, PartyBuyer, ReleaseToSeller)); err != nil {
		t.Fatalf("buyer sign: %v", err)
	}
	if err := c.ApplyTimeoutDefault(PartyBuyer, RefundToBuyer); err != nil {
		t.Fatalf("timeout default: %v", err)
	}
	if got := c.Signatures[PartyBuyer].Decision; got != ReleaseToSeller {
		t.Errorf("verified signature overwritten by timeout default: %s", got)
	}
}
