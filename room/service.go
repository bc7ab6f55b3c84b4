package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowd/contract"
	"escrowd/evidence"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, room *Room) error
	Get(ctx context.Context, phrase string) (Room, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, phrase string) (Room, error)
	Save(ctx context.Context, tx pgx.Tx, room *Room) error
	AppendEvent(ctx context.Context, tx pgx.Tx, phrase, eventType, actorID string, payload map[string]any) error
	ListOpen(ctx context.Context) ([]Summary, error)
	ListInactive(ctx context.Context, cutoff time.Time) ([]string, error)
	PhraseExists(ctx context.Context, phrase string) (bool, error)
}

// Wallets is the fund-movement surface the service needs. Both calls run
// inside the room transaction so money and state commit together.
type Wallets interface {
	LockFunds(ctx context.Context, tx pgx.Tx, userID string, amount float64, roomPhrase string) error
	ReleaseLocked(ctx context.Context, tx pgx.Tx, fromID, toID string, amount float64, roomPhrase string) error
}

// Directory resolves user identity details owned by the auth package.
type Directory interface {
	PublicKey(ctx context.Context, userID string) (string, error)
	Username(ctx context.Context, userID string) (string, error)
}

// Classifier maps the negotiated description, plus the buyer's optional
// dispute reason, to a category and the evidence types the seller must
// produce.
type Classifier interface {
	Classify(description, reason string) (category string, required []string)
}

// SignFunc produces a hex signature over the canonical contract message. The
// dispute escalator and the watchdog supply one bound to the oracle key.
type SignFunc func(message string) (string, error)

// Result is the outcome of a committed intent, carrying everything the
// websocket layer needs to fan out.
type Result struct {
	Snapshot        Snapshot
	StateChanged    bool
	Broadcast       []Message
	EscalateDispute bool
}

// Service coordinates room transitions. Every intent runs in one transaction
// with the room row locked, so concurrent intents against the same phrase
// serialize and at most one wins.
type Service struct {
	pool       TxBeginner
	repo       Repository
	wallets    Wallets
	directory  Directory
	classifier Classifier

	aiPublicKey     string
	contractTimeout time.Duration
}

func NewService(pool TxBeginner, repo Repository, wallets Wallets, directory Directory, classifier Classifier, aiPublicKey string, contractTimeout time.Duration) *Service {
	return &Service{
		pool:            pool,
		repo:            repo,
		wallets:         wallets,
		directory:       directory,
		classifier:      classifier,
		aiPublicKey:     aiPublicKey,
		contractTimeout: contractTimeout,
	}
}

// CreateRoom opens a new escrow room for the seller. The phrase is drawn from
// the wordlist and retried on the rare collision.
func (s *Service) CreateRoom(ctx context.Context, sellerID string, amount float64) (Room, error) {
	if amount <= 0 {
		return Room{}, fmt.Errorf("%w: amount must be positive", ErrInvalidTransition)
	}

	var phrase string
	for attempt := 0; attempt < 5; attempt++ {
		p, err := NewPhrase()
		if err != nil {
			return Room{}, err
		}
		taken, err := s.repo.PhraseExists(ctx, p)
		if err != nil {
			return Room{}, err
		}
		if !taken {
			phrase = p
			break
		}
	}
	if phrase == "" {
		return Room{}, errors.New("room: could not allocate a unique phrase")
	}

	now := time.Now().UTC()
	room := Room{
		RoomPhrase:     phrase,
		SellerID:       sellerID,
		Amount:         amount,
		Status:         StatusWaitingForBuyer,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Room{}, fmt.Errorf("room: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Create(ctx, tx, &room); err != nil {
		return Room{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, phrase, "room_created", sellerID, map[string]any{"amount": amount}); err != nil {
		return Room{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Room{}, fmt.Errorf("room: commit tx: %w", err)
	}
	return room, nil
}

// GetRoom loads a single room.
func (s *Service) GetRoom(ctx context.Context, phrase string) (Room, error) {
	return s.repo.Get(ctx, phrase)
}

// ListRooms returns open rooms still waiting on a buyer.
func (s *Service) ListRooms(ctx context.Context) ([]Summary, error) {
	return s.repo.ListOpen(ctx)
}

// Join admits a user to the room, claiming the buyer slot on first contact.
func (s *Service) Join(ctx context.Context, phrase, userID string) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("room: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	room, err := s.repo.GetForUpdate(ctx, tx, phrase)
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	joined, err := room.Join(userID, now)
	if err != nil {
		return Result{}, err
	}

	var broadcast []Message
	if joined {
		username, err := s.directory.Username(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		broadcast = append(broadcast, room.appendSystemMessage(
			fmt.Sprintf("%s joined as buyer. Buyer, please describe the product you expect.", username), now))
	}

	if err := s.repo.Save(ctx, tx, &room); err != nil {
		return Result{}, err
	}
	if joined {
		if err := s.repo.AppendEvent(ctx, tx, phrase, "buyer_joined", userID, nil); err != nil {
			return Result{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("room: commit tx: %w", err)
	}
	return Result{Snapshot: room.Snapshot(), StateChanged: joined, Broadcast: broadcast}, nil
}

// Handle applies one client intent inside a single locked transaction. On any
// error the transaction rolls back and the room is untouched.
func (s *Service) Handle(ctx context.Context, intent Intent) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("room: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	room, err := s.repo.GetForUpdate(ctx, tx, intent.RoomPhrase)
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	var (
		broadcast []Message
		escalate  bool
	)

	switch intent.Type {
	case IntentProposeDescription:
		if err := room.ProposeDescription(intent.ActorID, intent.Description); err != nil {
			return Result{}, err
		}
		broadcast = append(broadcast, room.appendSystemMessage("Buyer proposed a product description. Seller, approve or edit.", now))

	case IntentApproveDescription:
		if err := room.ApproveDescription(intent.ActorID); err != nil {
			return Result{}, err
		}
		broadcast = append(broadcast, room.appendSystemMessage("Description agreed. Seller, confirm you are ready to proceed.", now))

	case IntentEditDescription:
		if err := room.EditDescription(intent.ActorID, intent.Description); err != nil {
			return Result{}, err
		}
		broadcast = append(broadcast, room.appendSystemMessage("Description edited. The other party must approve or edit.", now))

	case IntentConfirmSellerReady:
		if err := room.ConfirmSellerReady(intent.ActorID); err != nil {
			return Result{}, err
		}
		broadcast = append(broadcast, room.appendSystemMessage("Seller is ready. Buyer, lock the funds to secure the deal.", now))

	case IntentBuyerLockFunds:
		msg, err := s.lockFunds(ctx, tx, &room, intent.ActorID, now)
		if err != nil {
			return Result{}, err
		}
		broadcast = append(broadcast, msg)

	case IntentProductDelivered:
		if err := room.validateDelivery(intent.ActorID); err != nil {
			return Result{}, err
		}
		if err := room.Contract.Sign(contract.PartySeller, contract.ReleaseToSeller, intent.SignedMessage); err != nil {
			return Result{}, err
		}
		room.markDelivered(now)
		broadcast = append(broadcast, room.appendSystemMessage("Seller marked the product delivered and signed for release. Buyer, confirm receipt or open a dispute.", now))

	case IntentTransactionSuccessfull:
		if err := room.validateBuyerRelease(intent.ActorID); err != nil {
			return Result{}, err
		}
		if err := room.Contract.Sign(contract.PartyBuyer, contract.ReleaseToSeller, intent.SignedMessage); err != nil {
			return Result{}, err
		}
		msgs, err := s.settleIfDecided(ctx, tx, &room, now)
		if err != nil {
			return Result{}, err
		}
		broadcast = append(broadcast, msgs...)

	case IntentConfirmRefund:
		if err := room.validateBuyerRefund(intent.ActorID); err != nil {
			return Result{}, err
		}
		if err := room.Contract.Sign(contract.PartyBuyer, contract.RefundToBuyer, intent.SignedMessage); err != nil {
			return Result{}, err
		}
		msgs, err := s.settleIfDecided(ctx, tx, &room, now)
		if err != nil {
			return Result{}, err
		}
		broadcast = append(broadcast, msgs...)

	case IntentInitDispute:
		reason := strings.TrimSpace(intent.Message)
		category, required := s.classifier.Classify(room.Description, reason)
		if err := room.OpenDispute(intent.ActorID, category, required); err != nil {
			return Result{}, err
		}
		broadcast = append(broadcast, room.appendSystemMessage(
			fmt.Sprintf("Dispute opened (%s). Seller must submit: %s.", category, strings.Join(required, ", ")), now))

	case IntentFinalizeSubmission:
		if err := room.FinalizeSubmission(intent.ActorID); err != nil {
			return Result{}, err
		}
		escalate = true
		broadcast = append(broadcast, room.appendSystemMessage("Evidence finalized. The case is with the arbiter.", now))

	case IntentChatMessage:
		text := strings.TrimSpace(intent.Message)
		if text == "" {
			return Result{}, fmt.Errorf("%w: empty chat message", ErrInvalidTransition)
		}
		if _, ok := room.RoleOf(intent.ActorID); !ok {
			return Result{}, fmt.Errorf("%w: not a participant", ErrUnauthorizedParty)
		}
		username, err := s.directory.Username(ctx, intent.ActorID)
		if err != nil {
			return Result{}, err
		}
		broadcast = append(broadcast, room.appendChatMessage(intent.ActorID, username, text, now))

	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownIntent, intent.Type)
	}

	if err := s.repo.Save(ctx, tx, &room); err != nil {
		return Result{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, intent.RoomPhrase, intent.Type, intent.ActorID, map[string]any{"status": string(room.Status)}); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("room: commit tx: %w", err)
	}

	return Result{
		Snapshot:        room.Snapshot(),
		StateChanged:    intent.Type != IntentChatMessage,
		Broadcast:       broadcast,
		EscalateDispute: escalate,
	}, nil
}

// lockFunds moves the buyer's balance into escrow and mints the contract, all
// inside the caller's transaction.
func (s *Service) lockFunds(ctx context.Context, tx pgx.Tx, room *Room, userID string, now time.Time) (Message, error) {
	if err := room.validateLockFunds(userID); err != nil {
		return Message{}, err
	}

	buyerKey, err := s.directory.PublicKey(ctx, *room.BuyerID)
	if err != nil {
		return Message{}, err
	}
	sellerKey, err := s.directory.PublicKey(ctx, room.SellerID)
	if err != nil {
		return Message{}, err
	}

	if err := s.wallets.LockFunds(ctx, tx, userID, room.Amount, room.RoomPhrase); err != nil {
		return Message{}, err
	}

	c := contract.New(*room.BuyerID, room.SellerID, room.Amount, buyerKey, sellerKey, s.aiPublicKey, s.contractTimeout)
	room.secureFunds(c, now)
	return room.appendSystemMessage(
		fmt.Sprintf("Funds locked in escrow (%.2f). Seller, deliver the product.", room.Amount), now), nil
}

// settleIfDecided executes the contract and moves funds when a decision holds
// the threshold. A single signature leaves everything pending.
func (s *Service) settleIfDecided(ctx context.Context, tx pgx.Tx, room *Room, now time.Time) ([]Message, error) {
	decision, ok := room.Contract.DecisionReached()
	if !ok {
		return nil, nil
	}
	recipient, err := room.Contract.Execute(decision)
	if err != nil {
		return nil, err
	}
	if err := s.wallets.ReleaseLocked(ctx, tx, room.Contract.BuyerID, recipient, room.Contract.Amount, room.RoomPhrase); err != nil {
		return nil, err
	}
	room.complete(now)

	var text string
	switch decision {
	case contract.ReleaseToSeller:
		text = fmt.Sprintf("2-of-3 threshold reached: funds (%.2f) released to the seller. Transaction complete.", room.Contract.Amount)
	case contract.RefundToBuyer:
		text = fmt.Sprintf("2-of-3 threshold reached: funds (%.2f) refunded to the buyer. Transaction complete.", room.Contract.Amount)
	}
	return []Message{room.appendSystemMessage(text, now)}, nil
}

// SubmitEvidence records a seller upload made through the REST endpoint.
func (s *Service) SubmitEvidence(ctx context.Context, phrase, userID string, sub evidence.Submission) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("room: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	room, err := s.repo.GetForUpdate(ctx, tx, phrase)
	if err != nil {
		return Result{}, err
	}
	if err := room.SubmitEvidence(userID, sub); err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	msg := room.appendSystemMessage(fmt.Sprintf("Seller submitted evidence: %s.", sub.EvidenceType), now)

	if err := s.repo.Save(ctx, tx, &room); err != nil {
		return Result{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, phrase, "evidence_submitted", userID, map[string]any{"evidence_type": sub.EvidenceType}); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("room: commit tx: %w", err)
	}
	return Result{Snapshot: room.Snapshot(), StateChanged: true, Broadcast: []Message{msg}}, nil
}

// ApplyVerdict records the arbiter's decision and casts the oracle's vote.
// sign binds the oracle's private key; the produced signature goes through the
// same verification path as a human party's.
func (s *Service) ApplyVerdict(ctx context.Context, phrase string, verdict Verdict, sign SignFunc) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("room: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	room, err := s.repo.GetForUpdate(ctx, tx, phrase)
	if err != nil {
		return Result{}, err
	}
	if room.Status != StatusDispute || room.DisputeStatus == nil || *room.DisputeStatus != DisputeAwaitingAIDecision {
		return Result{}, fmt.Errorf("%w: verdict outside AWAITING_AI_DECISION", ErrInvalidTransition)
	}
	if room.Contract == nil {
		return Result{}, ErrMissingContract
	}

	now := time.Now().UTC()
	room.AIVerdict = &verdict

	signature, err := sign(room.Contract.Message(contract.PartyAIOracle, verdict.Decision))
	if err != nil {
		return Result{}, fmt.Errorf("room: sign verdict: %w", err)
	}
	if err := room.Contract.Sign(contract.PartyAIOracle, verdict.Decision, signature); err != nil {
		return Result{}, err
	}

	broadcast := []Message{room.appendSystemMessage(
		fmt.Sprintf("Arbiter verdict: %s (confidence %.2f). %s", verdict.Decision, verdict.Confidence, verdict.Summary), now)}

	msgs, err := s.settleIfDecided(ctx, tx, &room, now)
	if err != nil {
		return Result{}, err
	}
	broadcast = append(broadcast, msgs...)

	if room.Status != StatusComplete && verdict.Decision == contract.RefundToBuyer {
		broadcast = append(broadcast, room.appendSystemMessage("Buyer, co-sign the refund to release your funds.", now))
	}

	if err := s.repo.Save(ctx, tx, &room); err != nil {
		return Result{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, phrase, "verdict_applied", "", map[string]any{
		"decision":   string(verdict.Decision),
		"confidence": verdict.Confidence,
	}); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("room: commit tx: %w", err)
	}
	return Result{Snapshot: room.Snapshot(), StateChanged: true, Broadcast: broadcast}, nil
}

// ResolveTimeout force-closes an inactive room. With a pending contract the
// configured default decision is executed: the oracle signs it for real and
// the beneficiary receives an implicit signature, so settlement still flows
// through the threshold engine. Rooms that never locked funds simply close.
// A room settled by a concurrent intent is left alone.
func (s *Service) ResolveTimeout(ctx context.Context, phrase string, defaultDecision contract.Decision, sign SignFunc) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("room: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	room, err := s.repo.GetForUpdate(ctx, tx, phrase)
	if err != nil {
		return Result{}, err
	}
	if room.Status.Terminal() {
		return Result{Snapshot: room.Snapshot()}, nil
	}

	now := time.Now().UTC()
	var broadcast []Message

	if room.Contract != nil && room.Contract.Status == contract.StatusPending {
		beneficiary := contract.PartyBuyer
		if defaultDecision == contract.ReleaseToSeller {
			beneficiary = contract.PartySeller
		}

		signature, err := sign(room.Contract.Message(contract.PartyAIOracle, defaultDecision))
		if err != nil {
			return Result{}, fmt.Errorf("room: sign timeout default: %w", err)
		}
		if err := room.Contract.Sign(contract.PartyAIOracle, defaultDecision, signature); err != nil {
			return Result{}, err
		}
		if err := room.Contract.ApplyTimeoutDefault(beneficiary, defaultDecision); err != nil {
			return Result{}, err
		}

		broadcast = append(broadcast, room.appendSystemMessage(
			fmt.Sprintf("Room timed out. Default resolution %s applied.", defaultDecision), now))

		msgs, err := s.settleIfDecided(ctx, tx, &room, now)
		if err != nil {
			return Result{}, err
		}
		broadcast = append(broadcast, msgs...)
	} else {
		room.complete(now)
		broadcast = append(broadcast, room.appendSystemMessage("Room closed due to inactivity. No funds were locked.", now))
	}

	if err := s.repo.Save(ctx, tx, &room); err != nil {
		return Result{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, phrase, "timeout_resolved", "", map[string]any{
		"default_decision": string(defaultDecision),
	}); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("room: commit tx: %w", err)
	}
	return Result{Snapshot: room.Snapshot(), StateChanged: true, Broadcast: broadcast}, nil
}

// InactiveRooms lists phrases eligible for the watchdog to resolve.
func (s *Service) InactiveRooms(ctx context.Context, window time.Duration) ([]string, error) {
	return s.repo.ListInactive(ctx, time.Now().UTC().Add(-window))
}
