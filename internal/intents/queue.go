package intents

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Queue is the per-client durable intent store. It is safe for
// concurrent use; the sync loop relies on per-group callers already being
// serialized by its own mutex, but Queue does not assume that.
type Queue struct {
	mu          sync.Mutex
	log         *zap.Logger
	maxAttempts int
	order       []string
	byId        map[string]*Intent
}

// NewQueue constructs an empty Queue. maxAttempts is the publish-attempt
// bound from config.
func NewQueue(maxAttempts int, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		log:         log,
		maxAttempts: maxAttempts,
		byId:        map[string]*Intent{},
	}
}

// Queue enqueues a new intent in ToPublish state and returns its id.
func (q *Queue) Queue(groupId string, kind Kind, data []byte) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.byId[id] = &Intent{
		Id:      id,
		GroupId: groupId,
		Kind:    kind,
		Data:    data,
		State:   StateToPublish,
	}
	q.order = append(q.order, id)
	q.log.Debug("intent queued", zap.String("id", id), zap.String("group_id", groupId), zap.String("kind", kind.String()))
	return id
}

// Find returns intents for groupId whose state and kind are in the given
// sets, in FIFO insertion order. A nil/empty states or kinds set matches
// any.
func (q *Queue) Find(groupId string, states []State, kinds []Kind) []Intent {
	q.mu.Lock()
	defer q.mu.Unlock()

	stateSet := toStateSet(states)
	kindSet := toKindSet(kinds)

	var out []Intent
	for _, id := range q.order {
		it := q.byId[id]
		if it == nil || it.GroupId != groupId {
			continue
		}
		if len(stateSet) > 0 && !stateSet[it.State] {
			continue
		}
		if len(kindSet) > 0 && !kindSet[it.Kind] {
			continue
		}
		out = append(out, *it)
	}
	return out
}

// Get returns a copy of the intent with the given id.
func (q *Queue) Get(id string) (Intent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byId[id]
	if !ok {
		return Intent{}, fmt.Errorf("get intent %s: %w", id, ErrNotFound)
	}
	return *it, nil
}

func (q *Queue) mutate(id string, fn func(*Intent) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byId[id]
	if !ok {
		return fmt.Errorf("intent %s: %w", id, ErrNotFound)
	}
	return fn(it)
}

// SetToPublish reverts an intent to ToPublish — used by the sync loop when
// an own staged commit is invalidated by an interleaved external commit,
// or when an own SendMessage falls too far behind the current epoch.
func (q *Queue) SetToPublish(id string) error {
	return q.mutate(id, func(it *Intent) error {
		it.State = StateToPublish
		it.PayloadHash = nil
		it.PostCommitData = nil
		it.StagedCommit = nil
		it.PublishedInEpoch = nil
		q.log.Debug("intent reverted to to_publish", zap.String("id", id))
		return nil
	})
}

// SetPublished records that an intent's payload was handed to the
// transport.
func (q *Queue) SetPublished(id string, payloadHash, postCommitData, stagedCommit []byte, epoch uint64) error {
	return q.mutate(id, func(it *Intent) error {
		it.State = StatePublished
		it.PayloadHash = payloadHash
		it.PostCommitData = postCommitData
		it.StagedCommit = stagedCommit
		it.PublishedInEpoch = &epoch
		q.log.Debug("intent published", zap.String("id", id), zap.Uint64("epoch", epoch))
		return nil
	})
}

// SetCommitted marks an intent as merged; it remains until post_commit
// deletes it.
func (q *Queue) SetCommitted(id string) error {
	return q.mutate(id, func(it *Intent) error {
		it.State = StateCommitted
		q.log.Debug("intent committed", zap.String("id", id))
		return nil
	})
}

// SetError moves an intent to its terminal Error state and, for
// SendMessage intents, returns the message id the caller should mark
// failed.
func (q *Queue) SetError(id string) (messageId *string, err error) {
	err = q.mutate(id, func(it *Intent) error {
		it.State = StateError
		messageId = it.MessageId
		q.log.Warn("intent errored", zap.String("id", id), zap.String("kind", it.Kind.String()))
		return nil
	})
	return messageId, err
}

// AttachMessageId associates a message row with a SendMessage intent, so a
// later SetError can mark the message failed.
func (q *Queue) AttachMessageId(id, messageId string) error {
	return q.mutate(id, func(it *Intent) error {
		it.MessageId = &messageId
		return nil
	})
}

// IncrementPublishAttempts bumps an intent's attempt counter. If the bound
// is exceeded, the intent is moved to Error and the second return value is
// true.
func (q *Queue) IncrementPublishAttempts(id string) (exceeded bool, err error) {
	err = q.mutate(id, func(it *Intent) error {
		it.PublishAttempts++
		if it.PublishAttempts > q.maxAttempts {
			it.State = StateError
			exceeded = true
			q.log.Warn("intent exceeded publish attempt bound", zap.String("id", id), zap.Int("attempts", it.PublishAttempts))
		}
		return nil
	})
	return exceeded, err
}

// Delete removes an intent row — used after a Committed intent's
// post-commit action runs.
func (q *Queue) Delete(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byId[id]; !ok {
		return fmt.Errorf("delete intent %s: %w", id, ErrNotFound)
	}
	delete(q.byId, id)
	for i, existing := range q.order {
		if existing == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.log.Debug("intent deleted", zap.String("id", id))
	return nil
}

func toStateSet(states []State) map[State]bool {
	if len(states) == 0 {
		return nil
	}
	out := make(map[State]bool, len(states))
	for _, s := range states {
		out[s] = true
	}
	return out
}

func toKindSet(kinds []Kind) map[Kind]bool {
	if len(kinds) == 0 {
		return nil
	}
	out := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		out[k] = true
	}
	return out
}
