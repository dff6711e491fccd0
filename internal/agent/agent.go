package agent

import "context"

// Agent is the conversational collaborator boundary. The engine treats it as
// an opaque request/response call with a bounded timeout; agent failures are
// terminal for the inbound message and are never retried, to avoid duplicate
// agent side effects.
type Agent interface {
	Reply(ctx context.Context, userID string, message string) (string, error)
}
