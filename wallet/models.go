package wallet

import "time"

// Wallet mirrors the wallets table. Balance is the available (unlocked)
// amount; Locked is held in escrow.
type Wallet struct {
	UserID    string
	Balance   float64
	Locked    float64
	UpdatedAt time.Time
}

// Entry is one append-only ledger line kept in the wallet's transactions
// document.
type Entry struct {
	Type       string    `json:"type"`
	Amount     float64   `json:"amount"`
	RoomPhrase string    `json:"room_phrase,omitempty"`
	At         time.Time `json:"at"`
}

const (
	EntryEscrowLock    = "escrow_lock"
	EntryEscrowRelease = "escrow_release"
	EntryEscrowRefund  = "escrow_refund"
)

// Initial balances granted at registration.
const (
	InitialBuyerBalance  = 1000.0
	InitialSellerBalance = 500.0
)
