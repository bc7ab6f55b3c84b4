package dispute

import (
	"context"
	"errors"
	"testing"

	"escrowd/contract"
	"escrowd/evidence"
	"escrowd/room"
	"escrowd/signing"
)

type fakeOracle struct {
	ruling Ruling
	err    error
	seen   *CaseFile
}

func (f *fakeOracle) Review(ctx context.Context, cf CaseFile) (Ruling, error) {
	f.seen = &cf
	return f.ruling, f.err
}

type fakeRooms struct {
	room    room.Room
	verdict *room.Verdict
	result  room.Result
	signed  string
}

func (f *fakeRooms) GetRoom(ctx context.Context, phrase string) (room.Room, error) {
	return f.room, nil
}

func (f *fakeRooms) ApplyVerdict(ctx context.Context, phrase string, verdict room.Verdict, sign room.SignFunc) (room.Result, error) {
	f.verdict = &verdict
	sig, err := sign("canonical payload")
	if err != nil {
		return room.Result{}, err
	}
	f.signed = sig
	return f.result, nil
}

func disputedRoom() room.Room {
	buyer := "buyer-1"
	ds := room.DisputeAwaitingAIDecision
	return room.Room{
		RoomPhrase:       "amber bridge falcon slate",
		SellerID:         "seller-1",
		BuyerID:          &buyer,
		Amount:           500,
		Description:      "a blue bicycle",
		Status:           room.StatusDispute,
		DisputeStatus:    &ds,
		Category:         "PHYSICAL_GOODS",
		RequiredEvidence: []string{"shipping_receipt"},
		SubmittedEvidence: evidence.Set{
			"shipping_receipt": {EvidenceType: "shipping_receipt", Filename: "receipt.pdf", Path: "uploads/x/receipt.pdf"},
		},
	}
}

func TestEscalate_ApproveReleasesToSeller(t *testing.T) {
	keys, err := signing.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	oracle := &fakeOracle{ruling: Ruling{Decision: RulingApprove, Confidence: 0.9, Summary: "delivery proven"}}
	rooms := &fakeRooms{room: disputedRoom()}

	var published bool
	esc := NewEscalator(oracle, rooms, keys.PrivateKeyHex, func(string, room.Result) { published = true }, nil)

	if err := esc.Escalate(context.Background(), "amber bridge falcon slate"); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	if oracle.seen == nil || len(oracle.seen.Evidence) != 1 {
		t.Fatalf("expected case file with one evidence item, got %+v", oracle.seen)
	}
	if rooms.verdict == nil || rooms.verdict.Decision != contract.ReleaseToSeller {
		t.Fatalf("expected RELEASE_TO_SELLER verdict, got %+v", rooms.verdict)
	}
	if err := signing.Verify(keys.PublicKeyHex, "canonical payload", rooms.signed); err != nil {
		t.Errorf("expected a genuine oracle signature: %v", err)
	}
	if !published {
		t.Errorf("expected result to be published")
	}
}

func TestEscalate_RejectRefundsBuyer(t *testing.T) {
	keys, err := signing.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	oracle := &fakeOracle{ruling: Ruling{Decision: RulingReject, Confidence: 0.7}}
	rooms := &fakeRooms{room: disputedRoom()}
	esc := NewEscalator(oracle, rooms, keys.PrivateKeyHex, nil, nil)

	if err := esc.Escalate(context.Background(), "amber bridge falcon slate"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if rooms.verdict == nil || rooms.verdict.Decision != contract.RefundToBuyer {
		t.Fatalf("expected REFUND_TO_BUYER verdict, got %+v", rooms.verdict)
	}
}

func TestEscalate_OracleFailureLeavesDisputeOpen(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("arbiter down")}
	rooms := &fakeRooms{room: disputedRoom()}
	esc := NewEscalator(oracle, rooms, "", nil, nil)

	if err := esc.Escalate(context.Background(), "amber bridge falcon slate"); err == nil {
		t.Fatalf("expected error when the arbiter is down")
	}
	if rooms.verdict != nil {
		t.Errorf("expected no verdict to be applied")
	}
}

func TestEscalate_WrongSubStateRejected(t *testing.T) {
	r := disputedRoom()
	ds := room.DisputeAwaitingEvidence
	r.DisputeStatus = &ds
	rooms := &fakeRooms{room: r}
	esc := NewEscalator(&fakeOracle{}, rooms, "", nil, nil)

	if err := esc.Escalate(context.Background(), r.RoomPhrase); err == nil {
		t.Fatalf("expected error outside AWAITING_AI_DECISION")
	}
}
