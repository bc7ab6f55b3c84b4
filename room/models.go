package room

import (
	"time"

	"escrowd/contract"
	"escrowd/evidence"
)

// Status is the room lifecycle state.
type Status string

const (
	StatusWaitingForBuyer        Status = "WAITING_FOR_BUYER"
	StatusAwaitingDescription    Status = "AWAITING_DESCRIPTION"
	StatusAwaitingSellerApproval Status = "AWAITING_SELLER_APPROVAL"
	StatusAwaitingBuyerApproval  Status = "AWAITING_BUYER_APPROVAL"
	StatusAwaitingSellerReady    Status = "AWAITING_SELLER_READY"
	StatusAwaitingPayment        Status = "AWAITING_PAYMENT"
	StatusMoneySecured           Status = "MONEY_SECURED"
	StatusProductDelivered       Status = "PRODUCT_DELIVERED"
	StatusDispute                Status = "DISPUTE"
	StatusComplete               Status = "COMPLETE"
)

// Terminal reports whether no further transitions are legal.
func (s Status) Terminal() bool { return s == StatusComplete }

// DisputeStatus is the sub-state valid only while the room is in DISPUTE.
type DisputeStatus string

const (
	DisputeAwaitingEvidence   DisputeStatus = "AWAITING_EVIDENCE"
	DisputeAwaitingAIDecision DisputeStatus = "AWAITING_AI_DECISION"
	DisputeResolved           DisputeStatus = "RESOLVED"
)

// Role of an acting user within one room.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
)

// Intent types accepted over the websocket, mirroring the client envelope
// discriminator.
const (
	IntentProposeDescription     = "propose_description"
	IntentApproveDescription     = "approve_description"
	IntentEditDescription        = "edit_description"
	IntentConfirmSellerReady     = "confirm_seller_ready"
	IntentBuyerLockFunds         = "buyer_lock_funds"
	IntentProductDelivered       = "product_delivered"
	IntentTransactionSuccessfull = "transaction_successfull"
	IntentConfirmRefund          = "confirm_refund"
	IntentInitDispute            = "init_dispute"
	IntentFinalizeSubmission     = "finalize_submission"
	IntentChatMessage            = "chat_message"
)

// Intent is one client action against a room.
type Intent struct {
	RoomPhrase    string
	ActorID       string
	Type          string
	Description   string
	Message       string
	SignedMessage string
}

// Message is one chat or system line in the room's append-only transcript.
type Message struct {
	Type           string    `json:"type"`
	SenderID       string    `json:"sender_id,omitempty"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

// Verdict is the arbitration outcome stored on the room and consumed as the
// AI oracle's release vote.
type Verdict struct {
	Decision   contract.Decision `json:"decision"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning"`
	Summary    string            `json:"summary"`
	IssuedAt   time.Time         `json:"issued_at"`
}

// Room mirrors the rooms table. The contract, evidence, verdict, and message
// columns are JSON documents.
type Room struct {
	RoomPhrase        string
	SellerID          string
	BuyerID           *string
	Amount            float64
	Description       string
	Status            Status
	DisputeStatus     *DisputeStatus
	Category          string
	RequiredEvidence  []string
	SubmittedEvidence evidence.Set
	Contract          *contract.Contract
	AIVerdict         *Verdict
	Messages          []Message

	CreatedAt      time.Time
	BuyerJoinedAt  *time.Time
	FundsLockedAt  *time.Time
	DeliveredAt    *time.Time
	CompletedAt    *time.Time
	LastActivityAt time.Time
}

// RoleOf resolves the acting user's role in this room.
func (r *Room) RoleOf(userID string) (Role, bool) {
	if userID == r.SellerID {
		return RoleSeller, true
	}
	if r.BuyerID != nil && *r.BuyerID == userID {
		return RoleBuyer, true
	}
	return "", false
}

// Turn reports which role holds the negotiation turn. Only meaningful during
// the description negotiation loop.
func (r *Room) Turn() (Role, bool) {
	switch r.Status {
	case StatusAwaitingSellerApproval:
		return RoleSeller, true
	case StatusAwaitingBuyerApproval:
		return RoleBuyer, true
	default:
		return "", false
	}
}

// Snapshot is the wire representation of a room pushed to every connected
// session after a committed transition.
type Snapshot struct {
	RoomPhrase        string                 `json:"room_phrase"`
	SellerID          string                 `json:"seller_id"`
	BuyerID           *string                `json:"buyer_id"`
	Amount            float64                `json:"amount"`
	Description       string                 `json:"description"`
	Status            Status                 `json:"status"`
	DisputeStatus     *DisputeStatus         `json:"dispute_status"`
	Category          string                 `json:"category,omitempty"`
	RequiredEvidence  []string               `json:"required_evidence"`
	SubmittedEvidence evidence.Set           `json:"submitted_evidence"`
	Contract          *contract.Contract     `json:"contract"`
	AIVerdict         *Verdict               `json:"ai_verdict"`
	Messages          []Message              `json:"messages"`
	CreatedAt         time.Time              `json:"created_at"`
	BuyerJoinedAt     *time.Time             `json:"buyer_joined_at"`
	FundsLockedAt     *time.Time             `json:"funds_locked_at"`
	DeliveredAt       *time.Time             `json:"delivered_at"`
	CompletedAt       *time.Time             `json:"completed_at"`
}

// Snapshot builds the broadcastable view of the room.
func (r *Room) Snapshot() Snapshot {
	msgs := r.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	sub := r.SubmittedEvidence
	if sub == nil {
		sub = evidence.Set{}
	}
	return Snapshot{
		RoomPhrase:        r.RoomPhrase,
		SellerID:          r.SellerID,
		BuyerID:           r.BuyerID,
		Amount:            r.Amount,
		Description:       r.Description,
		Status:            r.Status,
		DisputeStatus:     r.DisputeStatus,
		Category:          r.Category,
		RequiredEvidence:  r.RequiredEvidence,
		SubmittedEvidence: sub,
		Contract:          r.Contract,
		AIVerdict:         r.AIVerdict,
		Messages:          msgs,
		CreatedAt:         r.CreatedAt,
		BuyerJoinedAt:     r.BuyerJoinedAt,
		FundsLockedAt:     r.FundsLockedAt,
		DeliveredAt:       r.DeliveredAt,
		CompletedAt:       r.CompletedAt,
	}
}

// Summary is the public listing entry for rooms waiting on a buyer.
type Summary struct {
	RoomPhrase string    `json:"room_phrase"`
	SellerID   string    `json:"seller_id"`
	Amount     float64   `json:"amount"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}
