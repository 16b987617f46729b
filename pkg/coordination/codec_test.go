package coordination

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode(%T) failed: %v", msg, err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(%T) failed: %v", msg, err)
	}
	return decoded
}

func TestCodecRoundTrip(t *testing.T) {
	msgs := []Message{
		Heartbeat{FromUID: "u1", NodeID: "eeg-rig"},
		JoinRequest{FromUID: "u1", Node: Node{
			ID:           "eeg-rig",
			UID:          "u1",
			Role:         RoleParticipant,
			Capabilities: []string{"eeg", "markers"},
			Metadata:     map[string]string{"room": "b12"},
		}},
		JoinOffer{FromUID: "coord", ToUID: "u1", Session: "lab", Accepted: true},
		JoinOffer{FromUID: "coord", ToUID: "u2", Session: "lab", Accepted: false, Reason: "session not accepting"},
		TopologyUpdate{FromUID: "coord", Nodes: []NodeSummary{
			{UID: "coord", ID: "hub", Role: RoleCoordinator},
			{UID: "u1", ID: "eeg-rig", Role: RoleParticipant},
		}},
		CreateStream{FromUID: "coord", Config: StreamConfig{
			Name:          "eeg",
			ChannelCount:  32,
			SampleRate:    512,
			DataType:      "float32",
			Participation: ModeCustom,
			Senders:       []string{"u1"},
			Receivers:     []string{"coord", "u2"},
		}},
		StartStream{FromUID: "coord", Name: "eeg", StartAt: 1234.5678},
		StreamReady{FromUID: "u1", Name: "eeg"},
		PauseStream{FromUID: "coord", Name: "eeg"},
		ResumeStream{FromUID: "coord", Name: "eeg", Flush: true},
		FlushStream{FromUID: "coord", Name: "eeg"},
		StopStream{FromUID: "coord", Name: "eeg"},
		DestroyStream{FromUID: "coord", Name: "eeg"},
		UserMessage{FromUID: "u1", Payload: map[string]string{"event": "blink", "at": "12.5"}},
		ConfigUpdate{FromUID: "coord", Settings: map[string]string{"chunk_size": "32"}},
		Leave{FromUID: "u1"},
	}

	for _, msg := range msgs {
		decoded := roundTrip(t, msg)
		if !reflect.DeepEqual(decoded, msg) {
			t.Errorf("%T round trip mismatch:\n got %+v\nwant %+v", msg, decoded, msg)
		}
	}
}

func TestCodecEmptyMapsDecodeNonNil(t *testing.T) {
	decoded := roundTrip(t, UserMessage{FromUID: "u1", Payload: map[string]string{}})
	um := decoded.(UserMessage)
	if um.Payload == nil {
		t.Error("decoded payload is nil, want empty map")
	}
}

func TestCodecWireShape(t *testing.T) {
	data, err := Encode(StartStream{FromUID: "coord", Name: "eeg", StartAt: 7.25})
	if err != nil {
		t.Fatal(err)
	}

	var rec map[string]string
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("wire payload is not a flat string map: %v", err)
	}
	want := map[string]string{
		"type":        "start_stream",
		"fromNodeUId": "coord",
		"stream_name": "eeg",
		"start_at":    "7.25",
	}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("wire record = %v, want %v", rec, want)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", "not json at all"},
		{"missing from", `{"type":"heartbeat"}`},
		{"unknown type", `{"type":"warp_core","fromNodeUId":"u1"}`},
		{"bad start_at", `{"type":"start_stream","fromNodeUId":"u1","stream_name":"eeg","start_at":"soon"}`},
		{"bad node_count", `{"type":"topology_update","fromNodeUId":"u1","node_count":"many"}`},
		{"truncated topology", `{"type":"topology_update","fromNodeUId":"u1","node_count":"2","node_0_uid":"a"}`},
	}
	for _, tc := range cases {
		if _, err := Decode([]byte(tc.data)); !errors.Is(err, ErrMessageParse) {
			t.Errorf("%s: error = %v, want ErrMessageParse", tc.name, err)
		}
	}
}

func TestDecodeIgnoresUnknownKeys(t *testing.T) {
	data := `{"type":"heartbeat","fromNodeUId":"u1","node_id":"rig","future_field":"x"}`
	msg, err := Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode with extra keys failed: %v", err)
	}
	hb, ok := msg.(Heartbeat)
	if !ok || hb.NodeID != "rig" {
		t.Errorf("decoded = %+v, want heartbeat from rig", msg)
	}
}
