package rpcjson

import "testing"

type sample struct {
	Foo string `json:"foo"`
	Bar int    `json:"bar"`
}

func TestCodecMarshalUnmarshalRoundTrip(t *testing.T) {
	c := Codec{}
	raw, err := c.Marshal(sample{Foo: "hello", Bar: 42})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got sample
	if err := c.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Foo != "hello" || got.Bar != 42 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestCodecUnmarshalInvalidJSON(t *testing.T) {
	c := Codec{}
	var got sample
	if err := c.Unmarshal([]byte("not json"), &got); err == nil {
		t.Fatalf("expected error unmarshaling invalid json")
	}
}

func TestCodecName(t *testing.T) {
	if Codec{}.Name() != Name {
		t.Fatalf("expected codec name to equal the registered content subtype")
	}
}
