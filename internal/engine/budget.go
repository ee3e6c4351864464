package engine

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for the validation and recovery gate.
const (
	DefaultRecoveryPasses = 2
	DefaultIndexWait      = 2 * time.Second
)

// RecoveryConfig bounds the validation and recovery gate.
type RecoveryConfig struct {
	// MaxPasses is the number of full recovery passes per subtree.
	MaxPasses int
	// IndexWait is how long to wait before re-querying an object that looks
	// missing, in case the tracker has not indexed it yet.
	IndexWait time.Duration
}

// DefaultRecoveryConfig returns the production bounds.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{MaxPasses: DefaultRecoveryPasses, IndexWait: DefaultIndexWait}
}

// RecoveryBudget counts recovery passes for one subtree and refuses passes
// beyond the limit.
//
// Each gate run has its own RecoveryBudget instance.
type RecoveryBudget struct {
	maxPasses int
	used      int
}

// NewRecoveryBudget creates a budget allowing maxPasses passes.
func NewRecoveryBudget(maxPasses int) *RecoveryBudget {
	return &RecoveryBudget{maxPasses: maxPasses}
}

// Take consumes one pass.
//
// Returns BudgetExhaustedError once every pass has been used.
func (b *RecoveryBudget) Take(root string) error {
	if b.used >= b.maxPasses {
		return &BudgetExhaustedError{Root: root, Passes: b.used, Limit: b.maxPasses}
	}
	b.used++
	return nil
}

// Used returns the number of passes taken.
func (b *RecoveryBudget) Used() int {
	return b.used
}

// Remaining returns the number of passes left.
func (b *RecoveryBudget) Remaining() int {
	return b.maxPasses - b.used
}

// BudgetExhaustedError is returned when a subtree needs more recovery passes
// than allowed. Items still missing become hard failures.
type BudgetExhaustedError struct {
	Root   string
	Passes int
	Limit  int
}

// Error implements the error interface.
func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("subtree %s exhausted recovery budget: %d passes >= %d limit",
		e.Root, e.Passes, e.Limit)
}

// IsBudgetExhausted returns true if err is a BudgetExhaustedError.
// Uses errors.As to handle wrapped errors.
func IsBudgetExhausted(err error) bool {
	var be *BudgetExhaustedError
	return errors.As(err, &be)
}
