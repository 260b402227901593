package natsbus

import "testing"

func TestOnlineSubject(t *testing.T) {
	if got := onlineSubject("u1"); got != "signalling.online.u1" {
		t.Fatalf("unexpected online subject: %s", got)
	}
}

func TestOfflineSubject(t *testing.T) {
	if got := offlineSubject("u1"); got != "signalling.offline.u1" {
		t.Fatalf("unexpected offline subject: %s", got)
	}
}

func TestLogoutSubject(t *testing.T) {
	if got := logoutSubject("s1"); got != "signalling.logout.s1" {
		t.Fatalf("unexpected logout subject: %s", got)
	}
}

func TestMarshalOrNilValidValue(t *testing.T) {
	raw := marshalOrNil(onlinePayload{SessionID: "s1", ConnectionID: "c1"})
	if raw == nil {
		t.Fatalf("expected marshaled payload, got nil")
	}
}

func TestMarshalOrNilUnmarshalable(t *testing.T) {
	raw := marshalOrNil(make(chan int))
	if raw != nil {
		t.Fatalf("expected nil for an unmarshalable value, got %s", raw)
	}
}
