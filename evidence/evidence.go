package evidence

import (
	"errors"
	"time"
)

var (
	// ErrTypeNotRequired signals an upload for a type the dispute never asked for.
	ErrTypeNotRequired = errors.New("evidence: type not required")
)

// Submission records one uploaded evidence item. Submissions are never
// mutated; a re-upload for the same type replaces the prior record.
type Submission struct {
	EvidenceType string    `json:"evidence_type"`
	Filename     string    `json:"filename"`
	Path         string    `json:"path"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Set maps evidence type to its latest submission.
type Set map[string]Submission

// Submit records a submission for a required type, last write wins. The
// returned bool reports whether a prior submission was replaced.
func (s Set) Submit(required []string, sub Submission) (bool, error) {
	found := false
	for _, want := range required {
		if want == sub.EvidenceType {
			found = true
			break
		}
	}
	if !found {
		return false, ErrTypeNotRequired
	}
	_, replaced := s[sub.EvidenceType]
	s[sub.EvidenceType] = sub
	return replaced, nil
}

// Complete reports whether every required type has a submission.
func (s Set) Complete(required []string) bool {
	for _, want := range required {
		if _, ok := s[want]; !ok {
			return false
		}
	}
	return true
}

// Missing lists the required types still lacking a submission, in the
// required order.
func (s Set) Missing(required []string) []string {
	var missing []string
	for _, want := range required {
		if _, ok := s[want]; !ok {
			missing = append(missing, want)
		}
	}
	return missing
}
