package client

import (
	"context"

	"github.com/convomls/core/internal/cryptoutil"
	"github.com/convomls/core/internal/intents"
	"github.com/convomls/core/internal/messages"
	"github.com/convomls/core/internal/syncloop"
)

// SendMessage queues an application message for groupId and waits for it
// to publish and merge, returning the message's id. The message row is
// inserted as Unpublished up front and attached to the queued intent, so
// a publish or commit failure (Spec §4.E) marks this same row Failed
// rather than leaving it unrepresented in the local store.
func (c *Client) SendMessage(ctx context.Context, groupId, contentTypeId string, content []byte, inReplyTo string) (string, error) {
	gs, err := c.groupSync(groupId)
	if err != nil {
		return "", err
	}

	msgId := cryptoutil.ContentHashHex([]byte(c.signer.InboxId()), []byte(contentTypeId), content)
	if err := c.store.Messages.Insert(messages.Message{
		Id:                   msgId,
		GroupId:              groupId,
		SenderInboxId:        c.signer.InboxId(),
		SenderInstallationId: c.signer.InstallationId(),
		ContentTypeId:        contentTypeId,
		Content:              content,
		Kind:                 messages.KindApplication,
		DeliveryStatus:       messages.DeliveryUnpublished,
		InReplyTo:            inReplyTo,
	}); err != nil {
		return "", err
	}

	data := syncloop.EncodeIntentData(syncloop.SendMessageIntentData{
		ContentTypeId: contentTypeId,
		Content:       content,
		InReplyTo:     inReplyTo,
	})
	intentId := c.store.Intents.Queue(groupId, intents.KindSendMessage, data)
	if err := c.store.Intents.AttachMessageId(intentId, msgId); err != nil {
		return "", err
	}

	if err := gs.SyncUntilIntentResolved(ctx, intentId); err != nil {
		return msgId, err
	}
	return msgId, nil
}

// EditMessage edits a message this installation's inbox originally sent.
// Edits have no wire or commit representation, so this is a pure local
// store mutation — it never touches the intent queue or sync loop.
func (c *Client) EditMessage(groupId, originalId string, newContent []byte, newContentTypeId string, editedAtNs int64) error {
	if _, err := c.entry(groupId); err != nil {
		return err
	}
	return c.store.Messages.Edit(originalId, c.signer.InboxId(), newContent, newContentTypeId, editedAtNs, 0)
}

// DeleteMessage marks a message this installation's inbox originally sent
// as deleted. Same local-only scope as EditMessage.
func (c *Client) DeleteMessage(groupId, originalId string, deletedAtNs int64) error {
	if _, err := c.entry(groupId); err != nil {
		return err
	}
	return c.store.Messages.Delete(originalId, c.signer.InboxId(), deletedAtNs)
}

// ListMessages returns every message in groupId, enriched with its
// edit/delete/reply relations.
func (c *Client) ListMessages(groupId string) ([]messages.EnrichedMessage, error) {
	if _, err := c.entry(groupId); err != nil {
		return nil, err
	}
	return c.store.Messages.List(groupId)
}

// GetMessage returns a single enriched message by id.
func (c *Client) GetMessage(groupId, id string) (messages.EnrichedMessage, error) {
	if _, err := c.entry(groupId); err != nil {
		return messages.EnrichedMessage{}, err
	}
	return c.store.Messages.Enrich(id)
}
