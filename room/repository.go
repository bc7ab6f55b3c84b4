package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowd/contract"
	"escrowd/evidence"
)

// PGRepository implements Repository backed by PostgreSQL. Mutations take the
// caller's transaction; the room row is locked with FOR UPDATE so intents are
// serialized per room phrase.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const roomColumns = `
	room_phrase, seller_id, buyer_id, amount, description, status,
	dispute_status, category, required_evidence, submitted_evidence,
	contract, ai_verdict, messages,
	created_at, buyer_joined_at, funds_locked_at, delivered_at, completed_at,
	last_activity_at
`

// Create inserts a freshly generated room.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, room *Room) error {
	const insertSQL = `
		INSERT INTO rooms (room_phrase, seller_id, amount, status, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`
	if _, err := tx.Exec(ctx, insertSQL, room.RoomPhrase, room.SellerID, room.Amount, room.Status, room.CreatedAt); err != nil {
		return fmt.Errorf("room: insert: %w", err)
	}
	return nil
}

// Get loads a room outside any transaction.
func (r *PGRepository) Get(ctx context.Context, phrase string) (Room, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_phrase = $1`, phrase)
	return scanRoom(row)
}

// GetForUpdate loads a room inside tx with a row lock, serializing all
// writers for this phrase.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, phrase string) (Room, error) {
	row := tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_phrase = $1 FOR UPDATE`, phrase)
	return scanRoom(row)
}

// Save persists the mutated room and refreshes its activity clock.
func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, room *Room) error {
	required, err := json.Marshal(room.RequiredEvidence)
	if err != nil {
		return fmt.Errorf("room: marshal required evidence: %w", err)
	}
	submitted, err := json.Marshal(orEmptySet(room.SubmittedEvidence))
	if err != nil {
		return fmt.Errorf("room: marshal submitted evidence: %w", err)
	}
	contractDoc, err := marshalNullable(room.Contract)
	if err != nil {
		return fmt.Errorf("room: marshal contract: %w", err)
	}
	verdictDoc, err := marshalNullable(room.AIVerdict)
	if err != nil {
		return fmt.Errorf("room: marshal verdict: %w", err)
	}
	messages, err := json.Marshal(orEmptyMessages(room.Messages))
	if err != nil {
		return fmt.Errorf("room: marshal messages: %w", err)
	}

	const updateSQL = `
		UPDATE rooms
		SET buyer_id = $2,
		    description = $3,
		    status = $4,
		    dispute_status = $5,
		    category = NULLIF($6, ''),
		    required_evidence = $7,
		    submitted_evidence = $8,
		    contract = $9,
		    ai_verdict = $10,
		    messages = $11,
		    buyer_joined_at = $12,
		    funds_locked_at = $13,
		    delivered_at = $14,
		    completed_at = $15,
		    last_activity_at = now()
		WHERE room_phrase = $1
	`
	tag, err := tx.Exec(ctx, updateSQL,
		room.RoomPhrase,
		room.BuyerID,
		room.Description,
		room.Status,
		room.DisputeStatus,
		room.Category,
		required,
		submitted,
		contractDoc,
		verdictDoc,
		messages,
		room.BuyerJoinedAt,
		room.FundsLockedAt,
		room.DeliveredAt,
		room.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("room: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent records a timeline row for a committed transition.
func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, phrase, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("room: marshal event payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const insertSQL = `
		INSERT INTO room_events (room_phrase, type, actor_id, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, phrase, eventType, actor, body); err != nil {
		return fmt.Errorf("room: insert event: %w", err)
	}
	return nil
}

// ListOpen returns public summaries of rooms still waiting on a buyer.
func (r *PGRepository) ListOpen(ctx context.Context) ([]Summary, error) {
	const query = `
		SELECT room_phrase, seller_id, amount, status, created_at
		FROM rooms
		WHERE status = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, StatusWaitingForBuyer)
	if err != nil {
		return nil, fmt.Errorf("room: list open: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0, 16)
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.RoomPhrase, &s.SellerID, &s.Amount, &s.Status, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("room: scan summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("room: iterate summaries: %w", err)
	}
	return out, nil
}

// ListInactive returns the phrases of non-terminal rooms whose last committed
// transition predates the cutoff. Consumed by the inactivity watchdog.
func (r *PGRepository) ListInactive(ctx context.Context, cutoff time.Time) ([]string, error) {
	const query = `
		SELECT room_phrase
		FROM rooms
		WHERE status <> $1 AND last_activity_at < $2
		ORDER BY last_activity_at
	`
	rows, err := r.pool.Query(ctx, query, StatusComplete, cutoff)
	if err != nil {
		return nil, fmt.Errorf("room: list inactive: %w", err)
	}
	defer rows.Close()

	var phrases []string
	for rows.Next() {
		var phrase string
		if err := rows.Scan(&phrase); err != nil {
			return nil, fmt.Errorf("room: scan phrase: %w", err)
		}
		phrases = append(phrases, phrase)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("room: iterate phrases: %w", err)
	}
	return phrases, nil
}

// PhraseExists reports whether a phrase is already taken.
func (r *PGRepository) PhraseExists(ctx context.Context, phrase string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE room_phrase = $1)`, phrase).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("room: phrase exists: %w", err)
	}
	return exists, nil
}

func scanRoom(row pgx.Row) (Room, error) {
	var (
		room          Room
		disputeStatus *string
		category      *string
		required      []byte
		submitted     []byte
		contractDoc   []byte
		verdictDoc    []byte
		messages      []byte
		description   *string
	)
	err := row.Scan(
		&room.RoomPhrase,
		&room.SellerID,
		&room.BuyerID,
		&room.Amount,
		&description,
		&room.Status,
		&disputeStatus,
		&category,
		&required,
		&submitted,
		&contractDoc,
		&verdictDoc,
		&messages,
		&room.CreatedAt,
		&room.BuyerJoinedAt,
		&room.FundsLockedAt,
		&room.DeliveredAt,
		&room.CompletedAt,
		&room.LastActivityAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrNotFound
		}
		return Room{}, fmt.Errorf("room: scan: %w", err)
	}

	if description != nil {
		room.Description = *description
	}
	if disputeStatus != nil {
		ds := DisputeStatus(*disputeStatus)
		room.DisputeStatus = &ds
	}
	if category != nil {
		room.Category = *category
	}
	if len(required) > 0 {
		if err := json.Unmarshal(required, &room.RequiredEvidence); err != nil {
			return Room{}, fmt.Errorf("room: decode required evidence: %w", err)
		}
	}
	room.SubmittedEvidence = evidence.Set{}
	if len(submitted) > 0 {
		if err := json.Unmarshal(submitted, &room.SubmittedEvidence); err != nil {
			return Room{}, fmt.Errorf("room: decode submitted evidence: %w", err)
		}
	}
	if len(contractDoc) > 0 {
		var c contract.Contract
		if err := json.Unmarshal(contractDoc, &c); err != nil {
			return Room{}, fmt.Errorf("room: decode contract: %w", err)
		}
		room.Contract = &c
	}
	if len(verdictDoc) > 0 {
		var v Verdict
		if err := json.Unmarshal(verdictDoc, &v); err != nil {
			return Room{}, fmt.Errorf("room: decode verdict: %w", err)
		}
		room.AIVerdict = &v
	}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &room.Messages); err != nil {
			return Room{}, fmt.Errorf("room: decode messages: %w", err)
		}
	}
	return room, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case *contract.Contract:
		if t == nil {
			return nil, nil
		}
	case *Verdict:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func orEmptySet(s evidence.Set) evidence.Set {
	if s == nil {
		return evidence.Set{}
	}
	return s
}

func orEmptyMessages(m []Message) []Message {
	if m == nil {
		return []Message{}
	}
	return m
}
