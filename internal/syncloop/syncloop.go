// Package syncloop implements the Group Sync Loop: the cooperative,
// per-group-mutex-serialized pass that publishes local intents, receives
// remote envelopes, validates commits against the permission policy, and
// runs post-commit actions.
package syncloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/convomls/core/internal/config"
	"github.com/convomls/core/internal/groups"
	"github.com/convomls/core/internal/intents"
	"github.com/convomls/core/internal/mlsiface"
	"github.com/convomls/core/internal/store"
	"github.com/convomls/core/internal/transport"
)

// Deps bundles a GroupSync's collaborators: the MLS group, the transport,
// the durable store, and this installation's signer. OriginatorId names
// the transport topic this group's envelopes are sequenced under.
type Deps struct {
	MlsGroup     mlsiface.MlsGroup
	Transport    transport.Transport
	Store        *store.Store
	Signer       mlsiface.Signer
	OriginatorId uint32
}

func (d Deps) topic() string { return fmt.Sprintf("originator:%d", d.OriginatorId) }

// GroupSync drives one group's sync passes. Callers sharing a GroupSync
// are automatically serialized by its mutex — concurrent Pass calls block
// rather than interleave, per the concurrency model's "no interleaving"
// guarantee.
type GroupSync struct {
	mu sync.Mutex

	deps Deps
	cfg  config.ClientConfig
	log  *zap.Logger

	lastInstallationCheck time.Time
}

// New constructs a GroupSync. log may be nil (a no-op logger is used).
func New(deps Deps, cfg config.ClientConfig, log *zap.Logger) *GroupSync {
	if log == nil {
		log = zap.NewNop()
	}
	return &GroupSync{deps: deps, cfg: cfg, log: log}
}

// GroupId returns the group this loop drives.
func (g *GroupSync) GroupId() string { return g.deps.MlsGroup.GroupId() }

// Pass runs exactly one sync pass: maybe_update_installations,
// publish_intents, receive, post_commit, in that order, holding the
// per-group mutex for the whole pass.
func (g *GroupSync) Pass(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.maybeUpdateInstallations(ctx); err != nil {
		return err
	}
	if err := g.publishIntents(ctx); err != nil {
		return err
	}
	if err := g.receive(ctx); err != nil {
		return err
	}
	if err := g.postCommit(ctx); err != nil {
		return err
	}
	return nil
}

// SyncUntilIntentResolved repeats passes until intentId is deleted, moves
// to intents.StateError, or the configured retry limit is hit. A retryable
// pass error is swallowed and retried; a permanent one is returned
// immediately.
func (g *GroupSync) SyncUntilIntentResolved(ctx context.Context, intentId string) error {
	limit := g.cfg.SyncRetryLimit
	if limit <= 0 {
		limit = config.DefaultSyncRetryLimit
	}
	for attempt := 0; attempt < limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.Pass(ctx); err != nil && !Retryable(err) {
			return err
		}

		it, err := g.deps.Store.Intents.Get(intentId)
		if err != nil {
			return nil // deleted: post_commit ran and removed it — resolved.
		}
		if it.State == intents.StateError {
			return fmt.Errorf("sync until intent resolved %s: %w", intentId, ErrSyncFailedToWait)
		}
	}
	return fmt.Errorf("sync until intent resolved %s: %w", intentId, ErrSyncFailedToWait)
}

// maybeUpdateInstallations computes, if the refresh interval has elapsed,
// the installation diff for the group's current membership and — if
// non-empty — enqueues a membership-update intent and folds it in before
// returning.
func (g *GroupSync) maybeUpdateInstallations(ctx context.Context) error {
	interval := g.cfg.InstallationRefreshInterval()
	if interval > 0 && time.Since(g.lastInstallationCheck) < interval {
		return nil
	}
	g.lastInstallationCheck = time.Now()

	view := g.deps.MlsGroup.Extensions()
	diff, _, err := groups.ResolveInstallationDiff(ctx, g.deps.Store.Identity, view.Membership, groups.MembershipDiff{}, g.deps.Signer.InstallationId())
	if err != nil {
		return retryable(fmt.Errorf("maybe update installations: %w", err))
	}
	if len(diff.AddedInstallations) == 0 && len(diff.RemovedInstallations) == 0 {
		return nil
	}

	g.log.Info("installation refresh found changes",
		zap.String("group_id", g.GroupId()),
		zap.Int("added", len(diff.AddedInstallations)),
		zap.Int("removed", len(diff.RemovedInstallations)))

	g.deps.Store.Intents.Queue(g.GroupId(), intents.KindUpdateGroupMembership, encodeJSON(MembershipIntentData{}))
	return nil
}
