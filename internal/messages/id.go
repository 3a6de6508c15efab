package messages

import "github.com/convomls/core/internal/cryptoutil"

// ComputeId derives the content-addressed message id as
// hash(group_id ‖ content ‖ idempotency_key).
func ComputeId(groupId string, content []byte, idempotencyKey string) string {
	return cryptoutil.ContentHashHex([]byte(groupId), content, []byte(idempotencyKey))
}
