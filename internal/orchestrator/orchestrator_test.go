package orchestrator

import (
	"testing"

	"github.com/flare152/flare-im/internal/envelope"
	"github.com/flare152/flare-im/internal/hooks"
	"github.com/flare152/flare-im/internal/push"
)

func TestClassifyNormalMessageNeedsWALAndStorage(t *testing.T) {
	msg := envelope.NewMessage()
	msg.MessageType = envelope.MessageText
	prof := classify(msg)
	if !prof.needsWAL || !prof.publishStorage || prof.requireOnline || !prof.persistIfOffline {
		t.Fatalf("unexpected profile for normal message: %+v", prof)
	}
}

func TestClassifyNotificationSkipsWALAndStorage(t *testing.T) {
	msg := envelope.NewMessage()
	msg.MessageType = envelope.MessageNotification
	prof := classify(msg)
	if prof.needsWAL || prof.publishStorage || !prof.requireOnline || prof.persistIfOffline {
		t.Fatalf("unexpected profile for notification message: %+v", prof)
	}
}

func TestApplyDraftOverridesPayloadAndMessageID(t *testing.T) {
	msg := envelope.NewMessage()
	msg.ServerID = "original"
	msg.Content.Payload = []byte("original payload")

	draft := &hooks.MessageDraft{MessageID: "rewritten", Payload: []byte("rewritten payload")}
	applyDraft(msg, draft)

	if msg.ServerID != "rewritten" || string(msg.Content.Payload) != "rewritten payload" {
		t.Fatalf("expected draft mutations applied, got %+v", msg)
	}
}

func TestApplyDraftLeavesUnsetFieldsAlone(t *testing.T) {
	msg := envelope.NewMessage()
	msg.ServerID = "original"
	msg.Content.Payload = []byte("original payload")

	draft := &hooks.MessageDraft{}
	applyDraft(msg, draft)

	if msg.ServerID != "original" || string(msg.Content.Payload) != "original payload" {
		t.Fatalf("expected empty draft fields to leave message untouched, got %+v", msg)
	}
}

func TestApplyDraftReroutesConversationID(t *testing.T) {
	msg := envelope.NewMessage()
	msg.ConversationID = "conv-original"

	draft := &hooks.MessageDraft{ConversationID: "conv-rerouted"}
	applyDraft(msg, draft)

	if msg.ConversationID != "conv-rerouted" {
		t.Fatalf("expected hook-rerouted conversation id applied, got %q", msg.ConversationID)
	}
}

func TestApplyDraftMergesHeadersAndMetadataWithoutClobbering(t *testing.T) {
	msg := envelope.NewMessage()
	msg.Headers = map[string]string{"existing": "h"}
	msg.Metadata = map[string]string{"existing": "m"}

	draft := &hooks.MessageDraft{
		Headers:  map[string]string{"added": "h2"},
		Metadata: map[string]string{"added": "m2"},
	}
	applyDraft(msg, draft)

	if msg.Headers["existing"] != "h" || msg.Headers["added"] != "h2" {
		t.Fatalf("expected headers merged, got %+v", msg.Headers)
	}
	if msg.Metadata["existing"] != "m" || msg.Metadata["added"] != "m2" {
		t.Fatalf("expected metadata merged, got %+v", msg.Metadata)
	}
}

func TestDeclaredParticipantsIncludesSenderAndReceivers(t *testing.T) {
	msg := envelope.NewMessage()
	msg.SenderID = "sender"
	msg.ReceiverID = "single-receiver"
	msg.ReceiverIDs = []string{"group-1", "group-2"}

	participants := declaredParticipants(msg)
	if len(participants) != 4 || participants[0] != "sender" {
		t.Fatalf("expected sender first followed by all receivers, got %v", participants)
	}
}

func TestBuildPushTaskDropsSenderFromTargets(t *testing.T) {
	msg := envelope.NewMessage()
	msg.ServerID = "srv-1"
	msg.SenderID = "sender"
	msg.ReceiverID = "receiver-1"
	msg.ConversationID = "conv-1"

	req := Request{ConversationID: "conv-1", ConversationType: envelope.ConversationOneToOne, SessionID: "sess-1"}
	raw, err := buildPushTask(msg, req, profile{requireOnline: true, persistIfOffline: false})
	if err != nil {
		t.Fatalf("build push task: %v", err)
	}

	got, err := push.UnmarshalTask(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.UserIDs) != 1 || got.UserIDs[0] != "receiver-1" {
		t.Fatalf("expected sender excluded from push targets, got %v", got.UserIDs)
	}
	if !got.RequireOnline {
		t.Fatalf("expected profile flags carried into task")
	}
	if got.ConversationID != "conv-1" {
		t.Fatalf("expected push task conversation id taken from the message, got %q", got.ConversationID)
	}
}

func TestSanitizeUTF8PassesThroughValidStrings(t *testing.T) {
	if got := sanitizeUTF8("hello"); got != "hello" {
		t.Fatalf("expected valid utf8 string unchanged, got %q", got)
	}
}

func TestSanitizeUTF8ReplacesInvalidBytes(t *testing.T) {
	invalid := string([]byte{0xff, 0xfe, 'a'})
	got := sanitizeUTF8(invalid)
	if got == invalid {
		t.Fatalf("expected invalid byte sequence to be rewritten")
	}
}
