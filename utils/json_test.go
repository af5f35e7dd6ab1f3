package utils

import (
	"bytes"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	type payload struct {
		Score string  `json:"score"`
		Overs float64 `json:"overs"`
	}

	data, err := Marshal(payload{Score: "204/5", Overs: 43.2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out payload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Score != "204/5" || out.Overs != 43.2 {
		t.Fatalf("unexpected roundtrip result: %+v", out)
	}
}

// Callers hand Unmarshal targets through interface{} parameters, so the
// signature has to accept one rather than require a typed pointer.
func TestUnmarshalThroughUntypedTarget(t *testing.T) {
	var out map[string]interface{}
	var target interface{} = &out

	if err := Unmarshal([]byte(`{"score":"10/1"}`), target); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["score"] != "10/1" {
		t.Fatalf("unexpected decode result: %v", out)
	}
}

func TestMarshalToBufferResets(t *testing.T) {
	buf := bytes.NewBufferString("stale")
	if err := MarshalToBuffer(map[string]string{"k": "v"}, buf); err != nil {
		t.Fatalf("marshal to buffer: %v", err)
	}
	if bytes.Contains(buf.Bytes(), []byte("stale")) {
		t.Fatalf("buffer not reset before encode: %q", buf.String())
	}
}
