// Package messages implements the Message Store Projector:
// idempotent message insertion plus the edit/deletion side-tables and
// query-time enrichment built on top of them.
package messages

// Kind distinguishes an application message from a membership-change
// transcript entry.
type Kind int

const (
	KindApplication Kind = iota
	KindMembershipChange
)

// DeliveryStatus tracks a message row's publish state, independent of the
// owning intent's own state.
type DeliveryStatus int

const (
	DeliveryUnpublished DeliveryStatus = iota
	DeliveryPublished
	DeliveryFailed
)

// Message is one row in the local message store.
type Message struct {
	Id                   string
	GroupId              string
	SenderInboxId        string
	SenderInstallationId string
	SentAtNs             int64
	ContentTypeId        string
	Content              []byte
	Kind                 Kind
	DeliveryStatus       DeliveryStatus
	OriginatorId         uint32
	OriginatorSequenceId uint64
	InReplyTo            string // empty if not a reply
}

// EditRecord is one edit of an original Application message.
type EditRecord struct {
	OriginalMessageId    string
	EditedByInboxId      string
	NewContent           []byte
	NewContentTypeId     string
	EditedAtNs           int64
	OriginatorSequenceId uint64 // tie-break when two edits share a timestamp
	insertedAt           uint64 // monotonic insertion counter, secondary tie-break
}

// DeletionRecord marks an original message as deleted.
type DeletionRecord struct {
	OriginalMessageId string
	DeletedByInboxId  string
	DeletedAtNs       int64
}

// EnrichedMessage is a Message merged with its latest authorized edit (if
// any) and deletion placeholder (if any), produced at query time.
type EnrichedMessage struct {
	Message
	Deleted   bool
	Edited    bool
	EditedBy  string
	EditedAtNs int64
	// InReplyTo, when the original was a reply, recursively enriched.
	InReplyToMessage *EnrichedMessage
}
