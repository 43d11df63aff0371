package publish

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/relabs-tech/gait_computer/internal/sample"
)

// Codec serialises MQTT payloads. Both codecs use the json field names.
type Codec struct {
	Name      string
	Marshal   func(v any) ([]byte, error)
	Unmarshal func(data []byte, v any) error
}

var JSON = Codec{Name: "json", Marshal: json.Marshal, Unmarshal: json.Unmarshal}

var Msgpack = Codec{Name: "msgpack", Marshal: msgpackMarshal, Unmarshal: msgpackUnmarshal}

func msgpackMarshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func msgpackUnmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// CodecFor maps a config value to a codec. Empty selects JSON.
func CodecFor(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return Msgpack, nil
	default:
		return Codec{}, fmt.Errorf("publish: unknown encoding %q", name)
	}
}

// NodeTopic is "<prefix>/node/<n>/<kind>".
func NodeTopic(prefix string, node sample.NodeID, kind sample.Kind) string {
	return fmt.Sprintf("%s/node/%d/%s", prefix, node, kind)
}

// JointsTopic carries the latest knee angles.
func JointsTopic(prefix string) string {
	return prefix + "/joints"
}

// ParseNodeTopic is the inverse of NodeTopic.
func ParseNodeTopic(prefix, topic string) (sample.NodeID, sample.Kind, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/node/")
	if !ok {
		return 0, 0, false
	}
	nodeStr, kindStr, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, false
	}
	n, err := strconv.ParseUint(nodeStr, 10, 8)
	if err != nil {
		return 0, 0, false
	}
	for _, k := range []sample.Kind{sample.KindImu, sample.KindFlex, sample.KindInsole} {
		if k.String() == kindStr {
			return sample.NodeID(n), k, true
		}
	}
	return 0, 0, false
}

// payload returns the part of s that is published on its node topic.
func payload(s sample.Sample) any {
	switch s.Kind {
	case sample.KindImu:
		return s.Imu
	case sample.KindFlex:
		return s.Flex
	default:
		return s.Insole
	}
}

// DecodeSample rebuilds a Sample from a node topic payload.
func DecodeSample(c Codec, kind sample.Kind, data []byte) (sample.Sample, error) {
	s := sample.Sample{Kind: kind}
	var err error
	switch kind {
	case sample.KindImu:
		s.Imu = new(sample.ImuSample)
		err = c.Unmarshal(data, s.Imu)
	case sample.KindFlex:
		s.Flex = new(sample.ProcessedFlexSample)
		err = c.Unmarshal(data, s.Flex)
	case sample.KindInsole:
		s.Insole = new(sample.ProcessedInsoleSample)
		err = c.Unmarshal(data, s.Insole)
	default:
		return sample.Sample{}, fmt.Errorf("publish: unknown kind %v", kind)
	}
	if err != nil {
		return sample.Sample{}, fmt.Errorf("publish: decode %s: %w", kind, err)
	}
	return s, nil
}
