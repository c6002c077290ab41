package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/homefix/messenger/internal/model"
)

// ---------------------------------------------------------------------------
// Test: Encoding a join frame
// ---------------------------------------------------------------------------

func TestEncode_Join(t *testing.T) {
	data, err := Encode(EventJoin, "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["event"] != EventJoin {
		t.Errorf("expected event %q, got %v", EventJoin, result["event"])
	}
	if result["data"] != "u-1" {
		t.Errorf("expected data %q, got %v", "u-1", result["data"])
	}
}

func TestEncode_NilDataOmitted(t *testing.T) {
	data, err := Encode(EventPing, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"event":"ping"}` {
		t.Errorf("unexpected frame %s", data)
	}
}

func TestEncode_EmptyEvent(t *testing.T) {
	if _, err := Encode("", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

// ---------------------------------------------------------------------------
// Test: Decoding private_message frames
// ---------------------------------------------------------------------------

func TestDecodeMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frame, err := Encode(EventPrivateMessage, model.Message{
		ID:         "m-1",
		SenderID:   "p1",
		SenderName: "Pat Plumber",
		SenderRole: "provider",
		Content:    "on my way",
		Timestamp:  ts,
		Seq:        7,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, err := DecodeMessage(env)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.ID != "m-1" || msg.SenderID != "p1" || msg.Content != "on my way" {
		t.Errorf("unexpected message %+v", msg)
	}
	if !msg.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %s, got %s", ts, msg.Timestamp)
	}
	if msg.Seq != 7 {
		t.Errorf("expected seq 7, got %d", msg.Seq)
	}
}

func TestDecodeMessage_WireFieldNames(t *testing.T) {
	frame := []byte(`{"event":"private_message","data":{"id":"m-2","sender_id":"p9","senderName":"Sam","senderRole":"provider","content":"hi","timestamp":"2026-03-01T12:00:00Z","read":false}}`)

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, err := DecodeMessage(env)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.SenderID != "p9" || msg.SenderName != "Sam" || msg.SenderRole != "provider" {
		t.Errorf("unexpected field mapping: %+v", msg)
	}
}

func TestDecodeMessage_Rejects(t *testing.T) {
	cases := map[string][]byte{
		"wrong event":    []byte(`{"event":"pong"}`),
		"missing sender": []byte(`{"event":"private_message","data":{"id":"m"}}`),
		"bad payload":    []byte(`{"event":"private_message","data":"oops"}`),
	}
	for name, frame := range cases {
		env, err := Decode(frame)
		if err != nil {
			t.Fatalf("%s: envelope should decode: %v", name, err)
		}
		if _, err := DecodeMessage(env); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed envelopes
// ---------------------------------------------------------------------------

func TestDecode_Malformed(t *testing.T) {
	inputs := [][]byte{
		[]byte(`not json`),
		[]byte(`{"data":1}`),
		[]byte(`{"event":""}`),
	}
	for _, in := range inputs {
		if _, err := Decode(in); err == nil {
			t.Errorf("%s: expected error", in)
		}
	}
}

func TestDecodeJoin(t *testing.T) {
	frame, _ := Encode(EventJoin, "u-77")
	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	id, err := DecodeJoin(env)
	if err != nil {
		t.Fatalf("decode join: %v", err)
	}
	if id != "u-77" {
		t.Errorf("expected u-77, got %q", id)
	}
}
