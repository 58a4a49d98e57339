package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewUpdate_Envelope(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	u := NewUpdate(42, UpdateSession("sid-1", &VersionedString{Value: "m", Version: 3}, nil), at)

	if u.ID == "" {
		t.Error("envelope id should be set")
	}
	if u.Seq != 42 {
		t.Errorf("seq = %d, want 42", u.Seq)
	}
	if u.CreatedAt != 1700000000123 {
		t.Errorf("createdAt = %d, want ms epoch 1700000000123", u.CreatedAt)
	}

	other := NewUpdate(43, DeleteArtifact("a1"), at)
	if other.ID == u.ID {
		t.Error("envelope ids must be random per update")
	}
}

func TestUpdate_WireShape(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	u := NewUpdate(7, UpdateSession("sid-1", &VersionedString{Value: "meta", Version: 2}, nil), at)

	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "seq", "body", "createdAt"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("wire envelope missing %q", key)
		}
	}
	body, ok := decoded["body"].(map[string]any)
	if !ok {
		t.Fatal("body should be an object")
	}
	if body["t"] != KindUpdateSession {
		t.Errorf("body t = %v, want %q", body["t"], KindUpdateSession)
	}
	if _, ok := body["agentState"]; ok {
		t.Error("untouched agentState should be omitted")
	}
}

func TestEphemeral_WireShape(t *testing.T) {
	e := SessionActivity("sid-9", true, false, time.UnixMilli(1700000000000))

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != EphemeralSessionActivity {
		t.Errorf("type = %v, want %q", decoded["type"], EphemeralSessionActivity)
	}
	if _, ok := decoded["id"]; !ok {
		t.Error("ephemeral activity should carry the session id")
	}
	if _, ok := decoded["seq"]; ok {
		t.Error("ephemeral events must not carry a sequence number")
	}
}

func TestBodyKinds(t *testing.T) {
	testCases := []struct {
		body Body
		want string
	}{
		{NewSession("s", "tag", VersionedString{}, time.Now()), KindNewSession},
		{UpdateSession("s", nil, nil), KindUpdateSession},
		{UpdateMachine("m", nil, nil), KindUpdateMachine},
		{UpdateAccount(VersionedString{}), KindUpdateAccount},
		{KVUpdate("k", nil, 0), KindKVUpdate},
		{UpdateAccessKey("ak", VersionedString{}), KindUpdateAccessKey},
		{NewArtifact("a", VersionedString{}, VersionedString{}), KindNewArtifact},
		{UpdateArtifact("a", nil, nil), KindUpdateArtifact},
		{DeleteArtifact("a"), KindDeleteArtifact},
	}
	for _, tc := range testCases {
		if tc.body.UpdateKind() != tc.want {
			t.Errorf("UpdateKind = %q, want %q", tc.body.UpdateKind(), tc.want)
		}
		raw, err := json.Marshal(tc.body)
		if err != nil {
			t.Fatalf("marshal %q: %v", tc.want, err)
		}
		var decoded map[string]any
		_ = json.Unmarshal(raw, &decoded)
		if decoded["t"] != tc.want {
			t.Errorf("wire t = %v, want %q", decoded["t"], tc.want)
		}
	}
}
