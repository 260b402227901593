package storage

import "testing"

func TestJsonbOfNilMapReturnsNullLiteral(t *testing.T) {
	if got := jsonbOf(nil); string(got) != "null" {
		t.Fatalf("expected null for nil map, got %s", got)
	}
}

func TestJsonbOfEncodesValues(t *testing.T) {
	got := jsonbOf(map[string]any{"key": "value"})
	if string(got) != `{"key":"value"}` {
		t.Fatalf("unexpected encoding: %s", got)
	}
}

func TestJsonbOfUnmarshalableValueFallsBackToNull(t *testing.T) {
	got := jsonbOf(map[string]any{"bad": make(chan int)})
	if string(got) != "null" {
		t.Fatalf("expected null fallback for unmarshalable value, got %s", got)
	}
}
