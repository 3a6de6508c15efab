package messages

import "errors"

var (
	ErrMessageNotFound       = errors.New("messages: original message not found in this group")
	ErrNotAuthorized         = errors.New("messages: caller is not the original message's sender")
	ErrNonEditableMessage    = errors.New("messages: message is not editable")
	ErrMessageAlreadyDeleted = errors.New("messages: message is already deleted")
	ErrContentTypeMismatch   = errors.New("messages: new content type does not match the original")
	ErrEmptyContent          = errors.New("messages: new content is empty")
)
