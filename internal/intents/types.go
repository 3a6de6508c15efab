// Package intents implements the per-group durable intent queue:
// the FIFO of local mutations awaiting publish, merge, and post-commit
// action.
package intents

import "errors"

// Kind is the operation an intent will publish.
type Kind int

const (
	KindSendMessage Kind = iota
	KindKeyUpdate
	KindUpdateGroupMembership
	KindUpdateAdminList
	KindMetadataUpdate
	KindUpdatePermission
)

func (k Kind) String() string {
	switch k {
	case KindSendMessage:
		return "send_message"
	case KindKeyUpdate:
		return "key_update"
	case KindUpdateGroupMembership:
		return "update_group_membership"
	case KindUpdateAdminList:
		return "update_admin_list"
	case KindMetadataUpdate:
		return "metadata_update"
	case KindUpdatePermission:
		return "update_permission"
	default:
		return "unknown"
	}
}

// State is an intent's lifecycle stage.
type State int

const (
	StateToPublish State = iota
	StatePublished
	StateCommitted
	StateError
)

func (s State) String() string {
	switch s {
	case StateToPublish:
		return "to_publish"
	case StatePublished:
		return "published"
	case StateCommitted:
		return "committed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Intent is one queued local mutation awaiting publish and merge.
type Intent struct {
	Id              string
	GroupId         string
	Kind            Kind
	Data            []byte
	State           State
	PublishAttempts int

	PayloadHash      []byte
	PostCommitData   []byte
	StagedCommit     []byte
	PublishedInEpoch *uint64
	MessageId        *string
}

// ErrPublishAttemptsExceeded names the condition of an intent pushed past
// the configured publish-attempt bound. No function of this package returns
// it: IncrementPublishAttempts reports the condition through its exceeded
// result and the intent's State becoming StateError.
var ErrPublishAttemptsExceeded = errors.New("intents: publish attempt bound exceeded")

// ErrNotFound is returned when an operation targets an unknown intent id.
var ErrNotFound = errors.New("intents: intent not found")
