package coordination

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is the flat key/value wire shape of a coordination message, one
// message per transport payload, UTF-8 JSON text.
type Record map[string]string

const (
	keyType = "type"
	keyFrom = "fromNodeUId"

	// Prefixes for flattened substructures.
	metaPrefix = "meta_"
	dataPrefix = "data_"
	setPrefix  = "set_"
)

// Encode serializes a message to its wire bytes.
func Encode(m Message) ([]byte, error) {
	rec := m.record()
	rec[keyType] = m.Type()
	rec[keyFrom] = m.From()
	return json.Marshal(rec)
}

// Decode parses wire bytes back into a typed message. Malformed payloads
// yield ErrMessageParse; callers log and drop them.
func Decode(data []byte) (Message, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageParse, err)
	}

	from, ok := rec[keyFrom]
	if !ok || from == "" {
		return nil, fmt.Errorf("%w: missing fromNodeUId", ErrMessageParse)
	}

	switch rec[keyType] {
	case TypeHeartbeat:
		return Heartbeat{FromUID: from, NodeID: rec["node_id"]}, nil
	case TypeJoinRequest:
		return decodeJoinRequest(from, rec)
	case TypeJoinOffer:
		return JoinOffer{
			FromUID:  from,
			ToUID:    rec["toNodeUId"],
			Session:  rec["session"],
			Accepted: rec["accepted"] == "true",
			Reason:   rec["reason"],
		}, nil
	case TypeTopologyUpdate:
		return decodeTopologyUpdate(from, rec)
	case TypeCreateStream:
		return decodeCreateStream(from, rec)
	case TypeStartStream:
		startAt, err := recordFloat(rec, "start_at")
		if err != nil {
			return nil, err
		}
		return StartStream{FromUID: from, Name: rec["stream_name"], StartAt: startAt}, nil
	case TypeStreamReady:
		return StreamReady{FromUID: from, Name: rec["stream_name"]}, nil
	case TypePauseStream:
		return PauseStream{FromUID: from, Name: rec["stream_name"]}, nil
	case TypeResumeStream:
		return ResumeStream{FromUID: from, Name: rec["stream_name"], Flush: rec["flush"] == "true"}, nil
	case TypeFlushStream:
		return FlushStream{FromUID: from, Name: rec["stream_name"]}, nil
	case TypeStopStream:
		return StopStream{FromUID: from, Name: rec["stream_name"]}, nil
	case TypeDestroyStream:
		return DestroyStream{FromUID: from, Name: rec["stream_name"]}, nil
	case TypeUserMessage:
		return UserMessage{FromUID: from, Payload: collectPrefixed(rec, dataPrefix)}, nil
	case TypeConfigUpdate:
		return ConfigUpdate{FromUID: from, Settings: collectPrefixed(rec, setPrefix)}, nil
	case TypeLeave:
		return Leave{FromUID: from}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMessageParse, rec[keyType])
}

func (m Heartbeat) record() Record {
	return Record{"node_id": m.NodeID}
}

func (m JoinRequest) record() Record {
	rec := Record{
		"node_id":   m.Node.ID,
		"node_role": m.Node.Role.String(),
	}
	if len(m.Node.Capabilities) > 0 {
		rec["capabilities"] = strings.Join(m.Node.Capabilities, ",")
	}
	for k, v := range m.Node.Metadata {
		rec[metaPrefix+k] = v
	}
	return rec
}

func decodeJoinRequest(from string, rec Record) (JoinRequest, error) {
	node := Node{
		ID:       rec["node_id"],
		UID:      from,
		Role:     ParseRole(rec["node_role"]),
		Metadata: collectPrefixed(rec, metaPrefix),
	}
	if caps := rec["capabilities"]; caps != "" {
		node.Capabilities = strings.Split(caps, ",")
	}
	return JoinRequest{FromUID: from, Node: node}, nil
}

func (m JoinOffer) record() Record {
	rec := Record{
		"toNodeUId": m.ToUID,
		"session":   m.Session,
		"accepted":  strconv.FormatBool(m.Accepted),
	}
	if m.Reason != "" {
		rec["reason"] = m.Reason
	}
	return rec
}

func (m TopologyUpdate) record() Record {
	rec := Record{"node_count": strconv.Itoa(len(m.Nodes))}
	for i, n := range m.Nodes {
		prefix := "node_" + strconv.Itoa(i) + "_"
		rec[prefix+"uid"] = n.UID
		rec[prefix+"id"] = n.ID
		rec[prefix+"role"] = n.Role.String()
	}
	return rec
}

func decodeTopologyUpdate(from string, rec Record) (TopologyUpdate, error) {
	count, err := strconv.Atoi(rec["node_count"])
	if err != nil || count < 0 {
		return TopologyUpdate{}, fmt.Errorf("%w: bad node_count %q", ErrMessageParse, rec["node_count"])
	}
	msg := TopologyUpdate{FromUID: from}
	for i := 0; i < count; i++ {
		prefix := "node_" + strconv.Itoa(i) + "_"
		uid, ok := rec[prefix+"uid"]
		if !ok {
			return TopologyUpdate{}, fmt.Errorf("%w: missing %suid", ErrMessageParse, prefix)
		}
		msg.Nodes = append(msg.Nodes, NodeSummary{
			UID:  uid,
			ID:   rec[prefix+"id"],
			Role: ParseRole(rec[prefix+"role"]),
		})
	}
	return msg, nil
}

func (m CreateStream) record() Record {
	rec := Record{
		"stream_name":   m.Config.Name,
		"channel_count": strconv.Itoa(m.Config.ChannelCount),
		"sample_rate":   strconv.FormatFloat(m.Config.SampleRate, 'g', -1, 64),
		"data_type":     m.Config.DataType,
		"participation": m.Config.Participation.String(),
	}
	if len(m.Config.Senders) > 0 {
		rec["senders"] = strings.Join(m.Config.Senders, ",")
	}
	if len(m.Config.Receivers) > 0 {
		rec["receivers"] = strings.Join(m.Config.Receivers, ",")
	}
	return rec
}

func decodeCreateStream(from string, rec Record) (CreateStream, error) {
	channels, err := strconv.Atoi(rec["channel_count"])
	if err != nil {
		return CreateStream{}, fmt.Errorf("%w: bad channel_count %q", ErrMessageParse, rec["channel_count"])
	}
	rate, err := recordFloat(rec, "sample_rate")
	if err != nil {
		return CreateStream{}, err
	}
	cfg := StreamConfig{
		Name:          rec["stream_name"],
		ChannelCount:  channels,
		SampleRate:    rate,
		DataType:      rec["data_type"],
		Participation: ParseParticipationMode(rec["participation"]),
	}
	if senders := rec["senders"]; senders != "" {
		cfg.Senders = strings.Split(senders, ",")
	}
	if receivers := rec["receivers"]; receivers != "" {
		cfg.Receivers = strings.Split(receivers, ",")
	}
	return CreateStream{FromUID: from, Config: cfg}, nil
}

func (m StartStream) record() Record {
	return Record{
		"stream_name": m.Name,
		"start_at":    strconv.FormatFloat(m.StartAt, 'g', -1, 64),
	}
}

func (m StreamReady) record() Record {
	return Record{"stream_name": m.Name}
}

func (m PauseStream) record() Record {
	return Record{"stream_name": m.Name}
}

func (m ResumeStream) record() Record {
	return Record{"stream_name": m.Name, "flush": strconv.FormatBool(m.Flush)}
}

func (m FlushStream) record() Record {
	return Record{"stream_name": m.Name}
}

func (m StopStream) record() Record {
	return Record{"stream_name": m.Name}
}

func (m DestroyStream) record() Record {
	return Record{"stream_name": m.Name}
}

func (m UserMessage) record() Record {
	rec := Record{}
	for k, v := range m.Payload {
		rec[dataPrefix+k] = v
	}
	return rec
}

func (m ConfigUpdate) record() Record {
	rec := Record{}
	for k, v := range m.Settings {
		rec[setPrefix+k] = v
	}
	return rec
}

func (m Leave) record() Record {
	return Record{}
}

func collectPrefixed(rec Record, prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range rec {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}

func recordFloat(rec Record, key string) (float64, error) {
	raw, ok := rec[key]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s %q", ErrMessageParse, key, raw)
	}
	return v, nil
}
