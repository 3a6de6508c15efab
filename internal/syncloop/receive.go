package syncloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/convomls/core/internal/config"
	"github.com/convomls/core/internal/cryptoutil"
	"github.com/convomls/core/internal/groups"
	"github.com/convomls/core/internal/intents"
	"github.com/convomls/core/internal/messages"
	"github.com/convomls/core/internal/mlsiface"
	"github.com/convomls/core/internal/transport"
)

// receive fetches envelopes after the group's last-consumed cursor and
// processes each in sequence-id order. A retryable error from processing
// one envelope aborts the pass without advancing the cursor past it, so
// the next Pass retries the same envelope; a permanent processing error
// is logged and the cursor is advanced past it regardless, so a malformed
// remote commit can never wedge the group.
func (g *GroupSync) receive(ctx context.Context) error {
	groupId := g.GroupId()
	cursor := g.deps.Store.Cursors.Get(groupId)

	envelopes, err := g.deps.Transport.QueryEnvelopes(ctx, g.deps.topic(), cursor, 0)
	if err != nil {
		return retryable(fmt.Errorf("receive: query envelopes: %w", err))
	}

	for i, env := range envelopes {
		seq := cursor + uint64(i) + 1
		if seq <= g.deps.Store.Cursors.Get(groupId) {
			g.log.Debug("skipping envelope", zap.Uint64("sequence_id", seq), zap.Error(ErrAlreadyProcessed))
			continue
		}

		if err := g.receiveOne(ctx, groupId, env); err != nil {
			if Retryable(err) {
				return err
			}
			g.log.Warn("envelope processing failed permanently, skipping", zap.String("group_id", groupId), zap.Uint64("sequence_id", seq), zap.Error(err))
		}

		if err := g.deps.Store.Cursors.Advance(groupId, seq); err != nil {
			return permanent(fmt.Errorf("receive: advance cursor: %w", err))
		}
	}
	return nil
}

func (g *GroupSync) receiveOne(ctx context.Context, groupId string, env transport.OriginatorEnvelope) error {
	var ce transport.ClientEnvelope
	if err := json.Unmarshal(env.UnsignedOriginatorEnvelopeBytes, &ce); err != nil {
		return permanent(fmt.Errorf("%w: %v", ErrUnexpectedWireFormat, err))
	}

	payloadHash := cryptoutil.ContentHash(ce.Payload)
	matched, isOwn := g.findPublishedIntent(groupId, payloadHash)

	processed, err := g.deps.MlsGroup.ProcessMessage(ctx, ce.Payload)
	if err != nil {
		return retryable(fmt.Errorf("process message: %w", err))
	}

	switch processed.Kind {
	case mlsiface.ProcessedApplication:
		return g.receiveApplication(groupId, processed, matched, isOwn)
	case mlsiface.ProcessedStagedCommit:
		return g.receiveStagedCommit(ctx, groupId, processed, matched, isOwn)
	default:
		return permanent(fmt.Errorf("%w: kind %d", ErrUnexpectedWireFormat, processed.Kind))
	}
}

func (g *GroupSync) findPublishedIntent(groupId string, payloadHash []byte) (intents.Intent, bool) {
	published := g.deps.Store.Intents.Find(groupId, []intents.State{intents.StatePublished}, nil)
	for _, it := range published {
		if string(it.PayloadHash) == string(payloadHash) {
			return it, true
		}
	}
	return intents.Intent{}, false
}

func (g *GroupSync) receiveApplication(groupId string, processed mlsiface.ProcessedMessage, matched intents.Intent, isOwn bool) error {
	var ap applicationPayload
	if err := json.Unmarshal(processed.ApplicationData, &ap); err != nil {
		return permanent(fmt.Errorf("decode application payload: %w", err))
	}

	if isOwn && matched.Kind == intents.KindSendMessage {
		epoch := g.deps.MlsGroup.Epoch()
		if matched.PublishedInEpoch != nil && epoch > *matched.PublishedInEpoch && epoch-*matched.PublishedInEpoch > uint64(g.maxPastEpochs()) {
			if err := g.deps.Store.Intents.SetToPublish(matched.Id); err != nil {
				return permanent(fmt.Errorf("revert send-message intent: %w", err))
			}
			return nil
		}
		if err := g.deps.Store.Intents.SetCommitted(matched.Id); err != nil {
			return permanent(fmt.Errorf("mark send-message intent committed: %w", err))
		}
	}

	msg := messages.Message{
		Id:                   cryptoutil.ContentHashHex([]byte(ap.SenderInboxId), []byte(ap.ContentTypeId), ap.Content),
		GroupId:              groupId,
		SenderInboxId:        ap.SenderInboxId,
		SenderInstallationId: ap.SenderInstallationId,
		ContentTypeId:        ap.ContentTypeId,
		Content:              ap.Content,
		Kind:                 messages.KindApplication,
		DeliveryStatus:       messages.DeliveryPublished,
		InReplyTo:            ap.InReplyTo,
	}
	if err := g.deps.Store.Messages.Insert(msg); err != nil {
		return err
	}
	if isOwn && matched.Kind == intents.KindSendMessage {
		// Insert no-ops if SendMessage pre-inserted this row as
		// Unpublished; flip it to Published now that it's observed merged.
		if err := g.deps.Store.Messages.MarkPublished(msg.Id); err != nil {
			g.log.Warn("mark message published", zap.String("message_id", msg.Id), zap.Error(err))
		}
	}
	return nil
}

func (g *GroupSync) receiveStagedCommit(ctx context.Context, groupId string, processed mlsiface.ProcessedMessage, matched intents.Intent, isOwn bool) error {
	prior := g.deps.MlsGroup.Extensions()
	sc := processed.StagedCommit

	ownCommitIntent := isOwn && matched.Kind != intents.KindSendMessage
	if ownCommitIntent && matched.PublishedInEpoch != nil && *matched.PublishedInEpoch != prior.Epoch {
		// Someone else's commit interleaved before ours was observed; our
		// staged commit is stale. Revert without merging.
		g.log.Debug("reverting stale own commit intent", zap.String("id", matched.Id), zap.Error(ErrEpochIncrementNotAllowed))
		if err := g.deps.Store.Intents.SetToPublish(matched.Id); err != nil {
			return permanent(fmt.Errorf("revert stale commit intent: %w", err))
		}
		return nil
	}

	vc, err := groups.ExtractValidatedCommit(ctx, g.deps.Store.Identity, prior, sc.Resulting, sc.SenderInstallationId, g.log)
	if err != nil {
		// A missing sequence id means this client's own identity log
		// hasn't caught up to the commit's membership yet, not that the
		// commit itself is invalid — retry once identity updates land
		// instead of permanently dropping it or erroring its own intent.
		if errors.Is(err, groups.ErrMissingSequenceId) {
			return retryable(fmt.Errorf("extract validated commit: %w", err))
		}
		if ownCommitIntent {
			messageId, sErr := g.deps.Store.Intents.SetError(matched.Id)
			if sErr != nil {
				return permanent(fmt.Errorf("mark commit intent errored: %w", sErr))
			}
			g.markMessageFailed(messageId)
		}
		return permanent(fmt.Errorf("extract validated commit: %w", err))
	}

	if !vc.Evaluate(prior.Permissions.PolicySet) {
		if ownCommitIntent {
			messageId, sErr := g.deps.Store.Intents.SetError(matched.Id)
			if sErr != nil {
				return permanent(fmt.Errorf("mark commit intent errored: %w", sErr))
			}
			g.markMessageFailed(messageId)
		}
		return permanent(fmt.Errorf("%w: %s", ErrCommitValidation, groupId))
	}

	if err := g.deps.MlsGroup.MergeStagedCommit(sc); err != nil {
		return retryable(fmt.Errorf("merge staged commit: %w", err))
	}

	transcript := messages.Message{
		Id:                   cryptoutil.ContentHashHex([]byte(groupId), []byte(sc.SenderInstallationId), encodeJSON(vc)),
		GroupId:              groupId,
		SenderInboxId:        vc.Actor.InboxId,
		SenderInstallationId: vc.Actor.Installation,
		ContentTypeId:        membershipChangeContentTypeId,
		Content:              encodeJSON(vc),
		Kind:                 messages.KindMembershipChange,
		DeliveryStatus:       messages.DeliveryPublished,
	}
	if err := g.deps.Store.Messages.Insert(transcript); err != nil {
		return permanent(fmt.Errorf("insert transcript message: %w", err))
	}

	if ownCommitIntent {
		if err := g.deps.Store.Intents.SetCommitted(matched.Id); err != nil {
			return permanent(fmt.Errorf("mark commit intent committed: %w", err))
		}
	}
	return nil
}

func (g *GroupSync) maxPastEpochs() int {
	if g.cfg.MaxPastEpochs > 0 {
		return g.cfg.MaxPastEpochs
	}
	return config.DefaultMaxPastEpochs
}
