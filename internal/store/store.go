// Package store holds the durable, shared-mutable state every other
// package reads and writes through: cursors, the identity log, the intent
// queue, and the message projection. Every write funnels through a typed
// repository method that is atomic per call.
package store

import (
	"go.uber.org/zap"

	"github.com/convomls/core/internal/groups"
	"github.com/convomls/core/internal/identity"
	"github.com/convomls/core/internal/intents"
	"github.com/convomls/core/internal/messages"
)

// Store bundles the repositories a client needs. None of its fields share
// state with each other; each owns its own lock.
type Store struct {
	Cursors  *CursorStore
	Identity *IdentityLogStore
	Intents  *intents.Queue
	Messages *messages.Projector
}

// Config bundles the construction parameters for a Store's repositories.
type Config struct {
	ScwVerifier          identity.ScwVerifier
	MaxPublishAttempts   int
	EditableContentTypes []string
	Log                  *zap.Logger
}

// New constructs a Store with fresh, empty repositories.
func New(cfg Config) *Store {
	evaluator := identity.NewEvaluator(cfg.ScwVerifier, cfg.Log)
	return &Store{
		Cursors:  NewCursorStore(),
		Identity: NewIdentityLogStore(evaluator),
		Intents:  intents.NewQueue(cfg.MaxPublishAttempts, cfg.Log),
		Messages: messages.NewProjector(cfg.EditableContentTypes...),
	}
}

var _ groups.IdentityLookup = (*IdentityLogStore)(nil)
