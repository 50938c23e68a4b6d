package event

import (
	"encoding/json"
	"testing"

	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
)

func TestEncodeAndParseEventRoundTrip(t *testing.T) {
	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	e, err := NewBuilder(KindJobRequest).Tag("i", "https://host/v.mp4", "url").Sign(kp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	raw, err := EncodeEvent(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := ParseIncoming(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Type != WireEvent {
		t.Fatalf("type = %s, want EVENT", msg.Type)
	}

	got, err := msg.AsEvent()
	if err != nil {
		t.Fatalf("as event: %v", err)
	}
	if got.ID != e.ID {
		t.Fatalf("id mismatch: got %s want %s", got.ID, e.ID)
	}
}

func TestEncodeReqWithFilters(t *testing.T) {
	f := Filter{Kinds: []int{KindJobRequest}, Since: 100}
	raw, err := EncodeReq("sub1", f)
	if err != nil {
		t.Fatalf("encode req: %v", err)
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(arr) != 3 {
		t.Fatalf("array length = %d, want 3", len(arr))
	}
	var typ string
	json.Unmarshal(arr[0], &typ)
	if typ != WireReq {
		t.Fatalf("type = %s, want REQ", typ)
	}
}

func TestParseOKMessage(t *testing.T) {
	raw := []byte(`["OK","abc123",true,""]`)
	msg, err := ParseIncoming(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	id, accepted, reason, err := msg.AsOK()
	if err != nil {
		t.Fatalf("as ok: %v", err)
	}
	if id != "abc123" || !accepted || reason != "" {
		t.Fatalf("unexpected OK fields: %s %v %q", id, accepted, reason)
	}
}

func TestParseNoticeMessage(t *testing.T) {
	raw := []byte(`["NOTICE","rate limited"]`)
	msg, err := ParseIncoming(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	notice, err := msg.AsNotice()
	if err != nil {
		t.Fatalf("as notice: %v", err)
	}
	if notice != "rate limited" {
		t.Fatalf("notice = %q", notice)
	}
}

func TestParseIncomingRejectsEmptyArray(t *testing.T) {
	if _, err := ParseIncoming([]byte(`[]`)); err == nil {
		t.Fatal("expected error for empty array")
	}
}
