package dispute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ruling decisions as the arbiter endpoint expresses them. APPROVE upholds
// the seller's delivery; REJECT sides with the buyer.
const (
	RulingApprove = "APPROVE"
	RulingReject  = "REJECT"
)

// ErrBadRuling signals the arbiter returned a decision outside the protocol.
var ErrBadRuling = errors.New("dispute: bad ruling")

// EvidenceItem is one submitted artifact forwarded to the arbiter.
type EvidenceItem struct {
	EvidenceType string `json:"evidence_type"`
	Filename     string `json:"filename"`
	Path         string `json:"path"`
}

// CaseFile is the full dispute context sent for review.
type CaseFile struct {
	RoomPhrase  string         `json:"room_phrase"`
	Category    string         `json:"category"`
	Description string         `json:"description"`
	Amount      float64        `json:"amount"`
	Evidence    []EvidenceItem `json:"evidence"`
}

// Ruling is the arbiter's answer.
type Ruling struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Summary    string  `json:"summary"`
}

// Oracle reviews a dispute case file and renders a ruling.
type Oracle interface {
	Review(ctx context.Context, cf CaseFile) (Ruling, error)
}

// HTTPOracle calls an external arbiter service. Transient failures are
// retried a bounded number of times with growing backoff.
type HTTPOracle struct {
	baseURL  string
	client   *http.Client
	attempts int
	backoff  time.Duration
}

func NewHTTPOracle(baseURL string, client *http.Client) *HTTPOracle {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPOracle{
		baseURL:  baseURL,
		client:   client,
		attempts: 3,
		backoff:  2 * time.Second,
	}
}

// Review posts the case file to the arbiter and decodes the ruling.
func (o *HTTPOracle) Review(ctx context.Context, cf CaseFile) (Ruling, error) {
	body, err := json.Marshal(cf)
	if err != nil {
		return Ruling{}, fmt.Errorf("dispute: marshal case file: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < o.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Ruling{}, ctx.Err()
			case <-time.After(o.backoff * time.Duration(attempt)):
			}
		}

		ruling, err := o.post(ctx, body)
		if err == nil {
			return ruling, nil
		}
		if errors.Is(err, ErrBadRuling) || errors.Is(err, context.Canceled) {
			return Ruling{}, err
		}
		lastErr = err
	}
	return Ruling{}, fmt.Errorf("dispute: arbiter unavailable after %d attempts: %w", o.attempts, lastErr)
}

func (o *HTTPOracle) post(ctx context.Context, body []byte) (Ruling, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/review", bytes.NewReader(body))
	if err != nil {
		return Ruling{}, fmt.Errorf("dispute: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Ruling{}, fmt.Errorf("dispute: call arbiter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Ruling{}, fmt.Errorf("dispute: arbiter status %d", resp.StatusCode)
	}

	var ruling Ruling
	if err := json.NewDecoder(resp.Body).Decode(&ruling); err != nil {
		return Ruling{}, fmt.Errorf("dispute: decode ruling: %w", err)
	}
	if ruling.Decision != RulingApprove && ruling.Decision != RulingReject {
		return Ruling{}, fmt.Errorf("%w: %q", ErrBadRuling, ruling.Decision)
	}
	if ruling.Confidence < 0 || ruling.Confidence > 1 {
		return Ruling{}, fmt.Errorf("%w: confidence %v out of range", ErrBadRuling, ruling.Confidence)
	}
	return ruling, nil
}
