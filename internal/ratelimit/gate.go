package ratelimit

import (
	"context"
	"errors"
	"fmt"
)

// ErrQuotaDenied means the controller refused the call. Callers must stop
// issuing ingestion calls for the identity, not retry immediately.
var ErrQuotaDenied = errors.New("ratelimit: quota denied")

// DeniedError carries the decision behind an ErrQuotaDenied
type DeniedError struct {
	Identity string
	Decision Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("quota denied for %s: %s", e.Identity, e.Decision)
}

func (e *DeniedError) Unwrap() error { return ErrQuotaDenied }

// Checker is the part of Controller a Gate needs
type Checker interface {
	CheckAndConsume(ctx context.Context, identity string) (Decision, error)
}

// Gate binds a Checker to one identity so call sites only ask "may I?"
type Gate struct {
	checker  Checker
	identity string
}

func NewGate(checker Checker, identity string) *Gate {
	return &Gate{checker: checker, identity: identity}
}

// Admit consumes one unit of quota. It returns nil when allowed, a
// *DeniedError when refused, and an ErrStoreUnavailable error when the
// store cannot be reached.
func (g *Gate) Admit(ctx context.Context) error {
	d, err := g.checker.CheckAndConsume(ctx, g.identity)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &DeniedError{Identity: g.identity, Decision: d}
	}
	return nil
}

func (g *Gate) Identity() string { return g.identity }
