package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/flare152/flare-im/internal/envelope"
	"github.com/flare152/flare-im/internal/push"
)

// maxEnvelopeBytes is the hard cap on a serialised envelope (§4.8
// push-request construction rules).
const maxEnvelopeBytes = 10 * 1024 * 1024

// buildPushTask constructs the push-tasks payload, shared by the storage
// and notification profiles (§4.4 step 8, §4.8 construction rules).
func buildPushTask(msg *envelope.Message, req Request, prof profile) ([]byte, error) {
	raw, err := envelope.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxEnvelopeBytes {
		return nil, fmt.Errorf("orchestrator: envelope exceeds %d bytes", maxEnvelopeBytes)
	}

	task := push.Task{
		MessageID:        msg.ServerID,
		ConversationID:   sanitizeUTF8(msg.ConversationID),
		ConversationType: req.ConversationType,
		SessionID:        sanitizeUTF8(req.SessionID),
		UserIDs:          sanitizeAll(declaredParticipants(msg)[1:]), // drop sender from push targets
		RequireOnline:    prof.requireOnline,
		PersistIfOffline: prof.persistIfOffline,
		Payload:          raw,
	}
	return push.MarshalTask(task)
}

// sanitizeUTF8 replaces invalid byte sequences so every user-provided
// string field frames as valid UTF-8 (§4.8).
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

func sanitizeAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = sanitizeUTF8(s)
	}
	return out
}
