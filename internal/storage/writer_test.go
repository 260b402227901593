package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/flare152/flare-im/internal/envelope"
	"github.com/flare152/flare-im/internal/metrics"
)

type fakeConversationRepo struct {
	participants map[string][]Participant
	lookupErr    error
}

func (f *fakeConversationRepo) Participants(ctx context.Context, conversationID string) ([]Participant, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.participants[conversationID], nil
}

func (f *fakeConversationRepo) ApplyLastMessage(ctx context.Context, conversationID, messageID string, nonSenderUserIDs []string) error {
	return nil
}

func (f *fakeConversationRepo) AdvanceSyncCursor(ctx context.Context, userID string, cursor int64) error {
	return nil
}

func newTestWriter(t *testing.T, conv ConversationStateRepository) *Writer {
	t.Helper()
	return New(Config{
		Conversation: conv,
		Metrics:      metrics.NewRegistry(fmt.Sprintf("test_%s", t.Name())),
		Logger:       zerolog.Nop(),
	})
}

func TestNonSenderRecipientsExcludesSender(t *testing.T) {
	conv := &fakeConversationRepo{participants: map[string][]Participant{
		"conv-1": {{UserID: "sender"}, {UserID: "other-1"}, {UserID: "other-2"}},
	}}
	w := newTestWriter(t, conv)

	msg := envelope.NewMessage()
	msg.SenderID = "sender"
	recipients, err := w.nonSenderRecipients(context.Background(), "conv-1", msg)
	if err != nil {
		t.Fatalf("non-sender recipients: %v", err)
	}
	if len(recipients) != 2 {
		t.Fatalf("expected sender excluded, got %v", recipients)
	}
}

func TestNonSenderRecipientsDegradesToDeclaredOnLookupFailure(t *testing.T) {
	conv := &fakeConversationRepo{lookupErr: fmt.Errorf("conversation service unavailable")}
	w := newTestWriter(t, conv)

	msg := envelope.NewMessage()
	msg.SenderID = "sender"
	msg.ReceiverID = "receiver-1"
	recipients, err := w.nonSenderRecipients(context.Background(), "conv-1", msg)
	if err != nil {
		t.Fatalf("expected degrade path to swallow the lookup error, got %v", err)
	}
	if len(recipients) != 1 || recipients[0] != "receiver-1" {
		t.Fatalf("expected fallback to declared receiver, got %v", recipients)
	}
}

func TestDeclaredReceiversPrefersSingularField(t *testing.T) {
	msg := envelope.NewMessage()
	msg.ReceiverID = "single"
	msg.ReceiverIDs = []string{"a", "b"}
	if got := declaredReceivers(msg); len(got) != 1 || got[0] != "single" {
		t.Fatalf("expected singular ReceiverID preferred, got %v", got)
	}
}

func TestDeclaredReceiversFallsBackToPlural(t *testing.T) {
	msg := envelope.NewMessage()
	msg.ReceiverIDs = []string{"a", "b"}
	got := declaredReceivers(msg)
	if len(got) != 2 {
		t.Fatalf("expected plural receivers used when singular empty, got %v", got)
	}
}
