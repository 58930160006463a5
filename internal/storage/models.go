// Package storage provides database models and repositories for the query engine.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// PatternStatus represents the review state of a learned pattern.
type PatternStatus string

const (
	PatternStatusPending  PatternStatus = "pending"
	PatternStatusApproved PatternStatus = "approved"
	PatternStatusRejected PatternStatus = "rejected"
)

// LearnedPattern is a noise phrase discovered by mining. Only approved
// patterns ever reach the normalizer's active phrase set.
type LearnedPattern struct {
	ID         uuid.UUID
	Phrase     string
	Frequency  int
	Confidence float64
	Examples   []string
	Status     PatternStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Approved reports whether the pattern is part of the active set.
func (p *LearnedPattern) Approved() bool {
	return p.Status == PatternStatusApproved
}

// NormalizationRecord is one immutable entry in the append-only log.
type NormalizationRecord struct {
	ID               uuid.UUID
	UserID           string
	RawText          string
	CleanText        string
	Transformations  []string
	Intent           string
	Confidence       float64
	ScaffoldedPrompt string
	CreatedAt        time.Time
}

// MiningRun tracks an offline mining batch. At most one run may be active
// at a time over the same store.
type MiningRun struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
}
