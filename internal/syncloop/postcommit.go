package syncloop

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/convomls/core/internal/intents"
	"github.com/convomls/core/internal/transport"
)

// postCommit executes the post-commit action (today only "send welcomes")
// for each Committed intent that carries one, then deletes the intent.
func (g *GroupSync) postCommit(ctx context.Context) error {
	committed := g.deps.Store.Intents.Find(g.GroupId(), []intents.State{intents.StateCommitted}, nil)

	for _, it := range committed {
		if len(it.PostCommitData) > 0 {
			var pc postCommitPayload
			if err := json.Unmarshal(it.PostCommitData, &pc); err != nil {
				g.log.Warn("intent has unreadable post-commit data, skipping welcomes", zap.String("id", it.Id), zap.Error(err))
			} else {
				var welcomes []transport.WelcomeInput
				for _, topic := range pc.WelcomeTopics {
					welcomes = append(welcomes, transport.WelcomeInput{TargetTopic: topic, Payload: pc.Payload})
				}
				if len(welcomes) > 0 {
					if err := g.deps.Transport.PublishWelcomes(ctx, welcomes); err != nil {
						return retryable(fmt.Errorf("post commit %s: publish welcomes: %w", it.Id, err))
					}
				}
			}
		}

		if err := g.deps.Store.Intents.Delete(it.Id); err != nil {
			return permanent(fmt.Errorf("post commit %s: delete intent: %w", it.Id, err))
		}
	}
	return nil
}
