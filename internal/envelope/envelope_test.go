package envelope

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	msg := NewMessage()
	msg.ServerID = "srv-1"
	msg.ConversationID = "conv-1"
	msg.Seq = 42
	msg.TenantID = "tenant-a"
	msg.SenderID = "user-1"
	msg.MessageType = MessageText
	msg.Content = Content{Type: MessageText, Text: "hello"}
	msg.SetEmitTs(1000)
	msg.SetIngestionTs(1001)
	msg.SetDegraded(true)

	raw, err := Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ServerID != msg.ServerID || got.Seq != msg.Seq || got.Content.Text != "hello" {
		t.Fatalf("round trip lost fields: got %+v", got)
	}
	if ts, ok := got.EmitTs(); !ok || ts != 1000 {
		t.Fatalf("expected emit_ts 1000, got %d (ok=%v)", ts, ok)
	}
	if !got.Degraded() {
		t.Fatalf("expected degraded flag to survive round trip")
	}
}

func TestStructuredContentBase64RoundTrip(t *testing.T) {
	type location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	loc := location{Lat: 1.5, Lng: -2.5}

	content, err := EncodeStructured(MessageLocation, loc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	encoded := content.Base64Payload()
	decodedBytes, err := DecodeBase64Payload(encoded)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	restored := Content{Type: MessageLocation, Payload: decodedBytes}

	var got location
	if err := restored.DecodeStructured(&got); err != nil {
		t.Fatalf("decode structured: %v", err)
	}
	if got != loc {
		t.Fatalf("expected %+v, got %+v", loc, got)
	}
}

func TestDegradedDefaultsFalse(t *testing.T) {
	msg := NewMessage()
	if msg.Degraded() {
		t.Fatalf("new message should not be degraded by default")
	}
	msg.SetDegraded(true)
	msg.SetDegraded(false)
	if msg.Degraded() {
		t.Fatalf("expected degraded flag to clear")
	}
	if _, ok := msg.Extra[keySeqDegraded]; ok {
		t.Fatalf("expected seq_degraded key removed from extra once cleared")
	}
}

func TestTimelineGettersMissingKey(t *testing.T) {
	msg := NewMessage()
	if _, ok := msg.PersistedTs(); ok {
		t.Fatalf("expected ok=false for unset timeline field")
	}
}
