package contract

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"escrowd/signing"
)

// Party identifies one of the three signer roles in the threshold scheme.
type Party string

const (
	PartyBuyer    Party = "BUYER"
	PartySeller   Party = "SELLER"
	PartyAIOracle Party = "AI_ORACLE"
)

// Decision states who should receive the escrowed funds.
type Decision string

const (
	ReleaseToSeller Decision = "RELEASE_TO_SELLER"
	RefundToBuyer   Decision = "REFUND_TO_BUYER"
)

// Status is the contract lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// Threshold is the number of verified agreeing signatures required to move funds.
const Threshold = 2

// SignatureKindTimeoutImplicit marks a signature that was granted by time
// passage rather than produced cryptographically.
const SignatureKindTimeoutImplicit = "TIMEOUT_IMPLICIT"

var (
	// ErrNotPending signals a signing attempt on an already-executed contract.
	ErrNotPending = errors.New("contract: not pending")
	// ErrSignatureInvalid signals the submitted signature failed cryptographic
	// verification. The signature is still recorded, unverified.
	ErrSignatureInvalid = errors.New("contract: invalid signature")
	// ErrUnknownParty signals a signer role outside the three-party scheme.
	ErrUnknownParty = errors.New("contract: unknown party")
)

// PartySignature is one party's release vote.
type PartySignature struct {
	Decision     Decision   `json:"decision,omitempty"`
	SignatureHex string     `json:"signature_hex,omitempty"`
	Verified     bool       `json:"verified"`
	Kind         string     `json:"kind,omitempty"`
	SignedAt     *time.Time `json:"signed_at,omitempty"`
}

// Contract is the fund-release authorization record owned by a room. It is
// persisted as a JSON document on the room row.
type Contract struct {
	ContractID  string                   `json:"contract_id"`
	BuyerID     string                   `json:"buyer_id"`
	SellerID    string                   `json:"seller_id"`
	Amount      float64                  `json:"amount"`
	PublicKeys  map[Party]string         `json:"public_keys"`
	Status      Status                   `json:"status"`
	FundsLocked bool                     `json:"funds_locked"`
	Signatures  map[Party]PartySignature `json:"signatures"`
	CreatedAt   time.Time                `json:"created_at"`
	TimeoutAt   time.Time                `json:"timeout_at"`
	ReleasedTo  string                   `json:"released_to,omitempty"`
	ReleasedAt  *time.Time               `json:"released_at,omitempty"`
}

// New creates a PENDING contract with locked funds and empty signature slots
// for all three parties.
func New(buyerID, sellerID string, amount float64, buyerKey, sellerKey, aiKey string, timeout time.Duration) *Contract {
	now := time.Now().UTC()
	return &Contract{
		ContractID: uuid.New().String(),
		BuyerID:    buyerID,
		SellerID:   sellerID,
		Amount:     amount,
		PublicKeys: map[Party]string{
			PartyBuyer:    buyerKey,
			PartySeller:   sellerKey,
			PartyAIOracle: aiKey,
		},
		Status:      StatusPending,
		FundsLocked: true,
		Signatures: map[Party]PartySignature{
			PartyBuyer:    {},
			PartySeller:   {},
			PartyAIOracle: {},
		},
		CreatedAt: now,
		TimeoutAt: now.Add(timeout),
	}
}

// Message is the canonical string a party signs for a decision on this contract.
func (c *Contract) Message(party Party, decision Decision) string {
	return fmt.Sprintf("%s:%s:%s", c.ContractID, party, decision)
}

// Sign verifies the hex signature against the party's registered public key
// and records it. An invalid signature is recorded unverified and reported as
// ErrSignatureInvalid; it never counts toward the threshold.
func (c *Contract) Sign(party Party, decision Decision, signatureHex string) error {
	if c.Status != StatusPending {
		return ErrNotPending
	}
	key, ok := c.PublicKeys[party]
	if !ok {
		return ErrUnknownParty
	}

	now := time.Now().UTC()
	if err := signing.Verify(key, c.Message(party, decision), signatureHex); err != nil {
		c.Signatures[party] = PartySignature{
			Decision:     decision,
			SignatureHex: signatureHex,
			Verified:     false,
			SignedAt:     &now,
		}
		return fmt.Errorf("%w for %s: %v", ErrSignatureInvalid, party, err)
	}

	c.Signatures[party] = PartySignature{
		Decision:     decision,
		SignatureHex: signatureHex,
		Verified:     true,
		SignedAt:     &now,
	}
	return nil
}

// ApplyTimeoutDefault records an implicitly verified signature for the party
// benefiting from the configured default resolution. Time passage stands in
// for the signature bytes; no cryptographic material is attached.
func (c *Contract) ApplyTimeoutDefault(party Party, decision Decision) error {
	if c.Status != StatusPending {
		return ErrNotPending
	}
	if _, ok := c.PublicKeys[party]; !ok {
		return ErrUnknownParty
	}
	if c.Signatures[party].Verified {
		return nil
	}
	now := time.Now().UTC()
	c.Signatures[party] = PartySignature{
		Decision: decision,
		Verified: true,
		Kind:     SignatureKindTimeoutImplicit,
		SignedAt: &now,
	}
	return nil
}

// DecisionReached reports whether any decision holds at least Threshold
// verified signatures. Conflicting decisions tally separately and never
// combine.
func (c *Contract) DecisionReached() (Decision, bool) {
	counts := map[Decision]int{}
	for _, sig := range c.Signatures {
		if sig.Verified && sig.Decision != "" {
			counts[sig.Decision]++
		}
	}
	for _, d := range []Decision{ReleaseToSeller, RefundToBuyer} {
		if counts[d] >= Threshold {
			return d, true
		}
	}
	return "", false
}

// Recipient resolves which party id receives the funds for a decision.
func (c *Contract) Recipient(decision Decision) (string, error) {
	switch decision {
	case ReleaseToSeller:
		return c.SellerID, nil
	case RefundToBuyer:
		return c.BuyerID, nil
	default:
		return "", fmt.Errorf("contract: invalid decision %q", decision)
	}
}

// Execute marks the contract completed for the given decision. Callers move
// the funds in the same transaction that persists this mutation.
func (c *Contract) Execute(decision Decision) (string, error) {
	if c.Status != StatusPending {
		return "", ErrNotPending
	}
	recipient, err := c.Recipient(decision)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	c.Status = StatusCompleted
	c.FundsLocked = false
	c.ReleasedTo = recipient
	c.ReleasedAt = &now
	return recipient, nil
}
