package agent

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultSessionID is the conversation every caller shares unless it
// asks for its own.
const DefaultSessionID = "main"

// ResolveSessionID maps a caller-supplied conversation id onto the
// session to run under. An empty id means the shared default session;
// forceNew always mints a fresh one. The second result reports whether
// a new session was created.
func ResolveSessionID(conversationID string, forceNew bool) (string, bool) {
	if forceNew {
		return newSessionID(), true
	}
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return DefaultSessionID, false
	}
	return id, false
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
