package dispute

import (
	"context"
	"fmt"
	"log"
	"time"

	"escrowd/contract"
	"escrowd/room"
	"escrowd/signing"
)

// Rooms is the slice of the room service the escalator drives.
type Rooms interface {
	GetRoom(ctx context.Context, phrase string) (room.Room, error)
	ApplyVerdict(ctx context.Context, phrase string, verdict room.Verdict, sign room.SignFunc) (room.Result, error)
}

// Escalator carries a finalized dispute to the arbiter and applies the
// resulting verdict as the oracle's contract vote. The oracle call runs
// outside any room lock; only ApplyVerdict re-enters the locked transaction.
type Escalator struct {
	oracle  Oracle
	rooms   Rooms
	signKey string
	publish func(phrase string, res room.Result)
	logger  *log.Logger
}

func NewEscalator(oracle Oracle, rooms Rooms, signKey string, publish func(string, room.Result), logger *log.Logger) *Escalator {
	if logger == nil {
		logger = log.Default()
	}
	if publish == nil {
		publish = func(string, room.Result) {}
	}
	return &Escalator{oracle: oracle, rooms: rooms, signKey: signKey, publish: publish, logger: logger}
}

// Escalate reviews the room's dispute and applies the verdict. A failed
// arbiter call leaves the dispute in AWAITING_AI_DECISION; the inactivity
// watchdog eventually resolves rooms the arbiter never answered for.
func (e *Escalator) Escalate(ctx context.Context, phrase string) error {
	r, err := e.rooms.GetRoom(ctx, phrase)
	if err != nil {
		return fmt.Errorf("dispute: load room: %w", err)
	}
	if r.DisputeStatus == nil || *r.DisputeStatus != room.DisputeAwaitingAIDecision {
		return fmt.Errorf("dispute: room %q is not awaiting a decision", phrase)
	}

	cf := CaseFile{
		RoomPhrase:  r.RoomPhrase,
		Category:    r.Category,
		Description: r.Description,
		Amount:      r.Amount,
	}
	for _, evType := range r.RequiredEvidence {
		if sub, ok := r.SubmittedEvidence[evType]; ok {
			cf.Evidence = append(cf.Evidence, EvidenceItem{EvidenceType: sub.EvidenceType, Filename: sub.Filename, Path: sub.Path})
		}
	}

	ruling, err := e.oracle.Review(ctx, cf)
	if err != nil {
		e.logger.Printf("dispute: arbiter review failed for room %q: %v", phrase, err)
		return err
	}

	decision := contract.RefundToBuyer
	if ruling.Decision == RulingApprove {
		decision = contract.ReleaseToSeller
	}
	verdict := room.Verdict{
		Decision:   decision,
		Confidence: ruling.Confidence,
		Reasoning:  ruling.Reasoning,
		Summary:    ruling.Summary,
		IssuedAt:   time.Now().UTC(),
	}

	res, err := e.rooms.ApplyVerdict(ctx, phrase, verdict, func(message string) (string, error) {
		return signing.Sign(e.signKey, message)
	})
	if err != nil {
		return fmt.Errorf("dispute: apply verdict: %w", err)
	}

	e.publish(phrase, res)
	return nil
}
