package messages

import (
	"fmt"
	"sort"
	"sync"
)

// Projector is the in-memory Message Store Projector. Insertion is
// idempotent on message id; edits and deletions live in side-tables keyed
// by the original message id and are merged in at query time.
type Projector struct {
	mu sync.Mutex

	editableContentTypes map[string]bool

	messages        map[string]Message // id -> message, scoped within by GroupId field
	editsByOriginal map[string][]EditRecord
	deletions       map[string]DeletionRecord
	insertCounter   uint64
}

// NewProjector constructs an empty Projector. editableContentTypes names
// the content-type ids that may be edited ("non-editable content
// type"); content codecs are out of scope, so callers supply the set.
func NewProjector(editableContentTypes ...string) *Projector {
	set := make(map[string]bool, len(editableContentTypes))
	for _, ct := range editableContentTypes {
		set[ct] = true
	}
	return &Projector{
		editableContentTypes: set,
		messages:             map[string]Message{},
		editsByOriginal:      map[string][]EditRecord{},
		deletions:            map[string]DeletionRecord{},
	}
}

// Insert writes a message row idempotently keyed by msg.Id.
func (p *Projector) Insert(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.messages[msg.Id]; exists {
		return nil
	}
	p.messages[msg.Id] = msg
	return nil
}

// Get returns the raw (unenriched) message row.
func (p *Projector) Get(id string) (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.messages[id]
	return m, ok
}

// MarkFailed sets a message row's delivery status to Failed — used when
// the owning SendMessage intent exhausts its retries or is rejected
// permanently.
func (p *Projector) MarkFailed(id string) error {
	return p.setDeliveryStatus(id, DeliveryFailed)
}

// MarkPublished sets a message row's delivery status to Published — used
// once a SendMessage intent's own envelope is observed merged, so the
// row pre-inserted at send time (Insert is a no-op on an existing id)
// reflects the outcome.
func (p *Projector) MarkPublished(id string) error {
	return p.setDeliveryStatus(id, DeliveryPublished)
}

func (p *Projector) setDeliveryStatus(id string, status DeliveryStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, exists := p.messages[id]
	if !exists {
		return fmt.Errorf("set delivery status %s: %w", id, ErrMessageNotFound)
	}
	m.DeliveryStatus = status
	p.messages[id] = m
	return nil
}

// Edit is the local edit API: it enforces every write-time rejection
// rule against the caller's own action, then projects the edit.
func (p *Projector) Edit(originalId, editorInbox string, newContent []byte, newContentTypeId string, editedAtNs int64, originatorSeq uint64) error {
	p.mu.Lock()
	original, exists := p.messages[originalId]
	p.mu.Unlock()

	if !exists {
		return fmt.Errorf("edit %s: %w", originalId, ErrMessageNotFound)
	}
	if original.SenderInboxId != editorInbox {
		return fmt.Errorf("edit %s: %w", originalId, ErrNotAuthorized)
	}
	if original.Kind != KindApplication {
		return fmt.Errorf("edit %s: %w", originalId, ErrNonEditableMessage)
	}
	if !p.editableContentTypes[original.ContentTypeId] {
		return fmt.Errorf("edit %s: %w", originalId, ErrNonEditableMessage)
	}
	if p.isDeletedLocked(originalId) {
		return fmt.Errorf("edit %s: %w", originalId, ErrMessageAlreadyDeleted)
	}
	if newContentTypeId != original.ContentTypeId {
		return fmt.Errorf("edit %s: %w", originalId, ErrContentTypeMismatch)
	}
	if len(newContent) == 0 {
		return fmt.Errorf("edit %s: %w", originalId, ErrEmptyContent)
	}

	p.ProjectEdit(EditRecord{
		OriginalMessageId:    originalId,
		EditedByInboxId:      editorInbox,
		NewContent:           newContent,
		NewContentTypeId:     newContentTypeId,
		EditedAtNs:           editedAtNs,
		OriginatorSequenceId: originatorSeq,
	})
	return nil
}

// ProjectEdit is the low-level projection path used when processing
// incoming envelopes: it stores the edit unconditionally, even for a
// target that has not yet arrived (out-of-order arrival) or an editor
// that does not match the original sender.
func (p *Projector) ProjectEdit(rec EditRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insertCounter++
	rec.insertedAt = p.insertCounter
	p.editsByOriginal[rec.OriginalMessageId] = append(p.editsByOriginal[rec.OriginalMessageId], rec)
}

// Delete marks originalId deleted by deleterInbox.
func (p *Projector) Delete(originalId, deleterInbox string, deletedAtNs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	original, exists := p.messages[originalId]
	if !exists {
		return fmt.Errorf("delete %s: %w", originalId, ErrMessageNotFound)
	}
	if original.SenderInboxId != deleterInbox {
		return fmt.Errorf("delete %s: %w", originalId, ErrNotAuthorized)
	}
	p.deletions[originalId] = DeletionRecord{OriginalMessageId: originalId, DeletedByInboxId: deleterInbox, DeletedAtNs: deletedAtNs}
	return nil
}

func (p *Projector) isDeletedLocked(originalId string) bool {
	_, ok := p.deletions[originalId]
	return ok
}

// Enrich merges id's message row with its latest authorized edit and any
// deletion, recursively enriching an in_reply_to target.
func (p *Projector) Enrich(id string) (EnrichedMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enrichLocked(id, map[string]bool{})
}

func (p *Projector) enrichLocked(id string, visiting map[string]bool) (EnrichedMessage, error) {
	msg, ok := p.messages[id]
	if !ok {
		return EnrichedMessage{}, fmt.Errorf("enrich %s: %w", id, ErrMessageNotFound)
	}

	enriched := EnrichedMessage{Message: msg}

	if _, ok := p.deletions[id]; ok {
		enriched.Deleted = true
		// Deletion supersedes edit: no edit metadata is surfaced.
	} else if latest, ok := latestAuthorizedEdit(p.editsByOriginal[id], msg.SenderInboxId); ok {
		enriched.Edited = true
		enriched.EditedBy = latest.EditedByInboxId
		enriched.EditedAtNs = latest.EditedAtNs
		enriched.ContentTypeId = latest.NewContentTypeId
		enriched.Content = latest.NewContent
	}

	if msg.InReplyTo != "" && !visiting[msg.InReplyTo] {
		visiting[msg.InReplyTo] = true
		if target, err := p.enrichLocked(msg.InReplyTo, visiting); err == nil {
			enriched.InReplyToMessage = &target
		}
	}

	return enriched, nil
}

// latestAuthorizedEdit picks the authoritative edit record: among edits
// whose author matches originalSender, the one with the greatest
// (EditedAtNs, OriginatorSequenceId, insertedAt) tuple.
func latestAuthorizedEdit(edits []EditRecord, originalSender string) (EditRecord, bool) {
	var best EditRecord
	found := false
	for _, e := range edits {
		if e.EditedByInboxId != originalSender {
			continue
		}
		if !found || isLaterEdit(e, best) {
			best = e
			found = true
		}
	}
	return best, found
}

func isLaterEdit(a, b EditRecord) bool {
	if a.EditedAtNs != b.EditedAtNs {
		return a.EditedAtNs > b.EditedAtNs
	}
	if a.OriginatorSequenceId != b.OriginatorSequenceId {
		return a.OriginatorSequenceId > b.OriginatorSequenceId
	}
	return a.insertedAt > b.insertedAt
}

// List returns every message in groupId, enriched, ordered by the
// original message's sent-at timestamp — editing never reorders the
// timeline.
func (p *Projector) List(groupId string) ([]EnrichedMessage, error) {
	p.mu.Lock()
	var ids []string
	for id, m := range p.messages {
		if m.GroupId == groupId {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	out := make([]EnrichedMessage, 0, len(ids))
	for _, id := range ids {
		enriched, err := p.Enrich(id)
		if err != nil {
			continue
		}
		out = append(out, enriched)
	}
	sortBySentAt(out)
	return out, nil
}

func sortBySentAt(msgs []EnrichedMessage) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].SentAtNs < msgs[j].SentAtNs })
}
