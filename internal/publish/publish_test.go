package publish

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/gait_computer/internal/orientation"
	"github.com/relabs-tech/gait_computer/internal/processing"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                       { return true }
func (t doneToken) WaitTimeout(_ time.Duration) bool { return true }
func (t doneToken) Error() error                     { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.msgs {
		out = append(out, m.topic)
	}
	return out
}

func TestTopics(t *testing.T) {
	topic := NodeTopic("gait", 3, sample.KindInsole)
	if topic != "gait/node/3/insole" {
		t.Fatalf("NodeTopic() = %q", topic)
	}
	node, kind, ok := ParseNodeTopic("gait", topic)
	if !ok || node != 3 || kind != sample.KindInsole {
		t.Fatalf("ParseNodeTopic(%q) = %d, %v, %v", topic, node, kind, ok)
	}
	for _, bad := range []string{"gait/joints", "other/node/1/imu", "gait/node/x/imu", "gait/node/1/gps", "gait/node/1"} {
		if _, _, ok := ParseNodeTopic("gait", bad); ok {
			t.Errorf("ParseNodeTopic(%q) accepted", bad)
		}
	}
	if JointsTopic("gait") != "gait/joints" {
		t.Fatalf("JointsTopic() = %q", JointsTopic("gait"))
	}
}

func TestCodecsRoundTripInsole(t *testing.T) {
	in := sample.FromInsole(sample.InsoleSample{Node: 4, TimestampMs: 12.5})
	in.Insole.Raw.Sensors[2].CalculatedResistance = 5400
	in.Insole.Forces[2] = 31000
	in.Insole.ForceCenterX = -0.75

	for _, name := range []string{"json", "msgpack"} {
		c, err := CodecFor(name)
		if err != nil {
			t.Fatalf("CodecFor(%q) error: %v", name, err)
		}
		data, err := c.Marshal(payload(in))
		if err != nil {
			t.Fatalf("%s marshal error: %v", name, err)
		}
		out, err := DecodeSample(c, sample.KindInsole, data)
		if err != nil {
			t.Fatalf("%s DecodeSample() error: %v", name, err)
		}
		if !reflect.DeepEqual(out, in) {
			t.Fatalf("%s round trip = %+v, want %+v", name, *out.Insole, *in.Insole)
		}
	}

	if _, err := CodecFor("xml"); err == nil {
		t.Fatalf("CodecFor(xml) succeeded")
	}
}

func TestPublisherSendsNodeAndJointTopics(t *testing.T) {
	client := &fakeClient{}
	joints := processing.NewJointTracker(processing.DefaultJoints)
	p := NewPublisher(client, "gait", JSON, joints)

	imu := func(node sample.NodeID, q orientation.Quaternion) sample.Sample {
		return sample.FromImu(sample.ImuSample{Node: node, Position: sample.PositionSample{QuatOrientation: q}})
	}
	// The pipeline updates the tracker before the publisher sees a sample.
	feed := func(s sample.Sample) {
		joints.Update(s)
		p.Handle(s)
	}

	feed(imu(1, orientation.Identity))
	feed(sample.FromFlex(sample.FlexSample{Node: 1}))
	feed(imu(3, orientation.FromAxisAngle(1, 0, 0, 0.5)))

	want := []string{"gait/node/1/imu", "gait/node/1/flex", "gait/node/3/imu", "gait/joints"}
	if got := client.topics(); !reflect.DeepEqual(got, want) {
		t.Fatalf("topics = %v, want %v", got, want)
	}

	var angles []processing.JointAngle
	if err := JSON.Unmarshal(client.msgs[3].payload, &angles); err != nil {
		t.Fatalf("joints payload: %v", err)
	}
	if len(angles) != 1 || angles[0].Joint != "left_knee" {
		t.Fatalf("joints = %+v", angles)
	}
	if !client.msgs[0].retained {
		t.Fatalf("node messages should be retained")
	}
	if p.Sent() != 4 || p.Failed() != 0 {
		t.Fatalf("Sent()=%d Failed()=%d", p.Sent(), p.Failed())
	}
}

func TestPublisherOnlyReadsTheSharedTracker(t *testing.T) {
	client := &fakeClient{}
	joints := processing.NewJointTracker(processing.DefaultJoints)
	p := NewPublisher(client, "gait", JSON, joints)

	thigh := sample.FromImu(sample.ImuSample{Node: 1, Position: sample.PositionSample{QuatOrientation: orientation.Identity}})
	shank := sample.FromImu(sample.ImuSample{Node: 3, Position: sample.PositionSample{QuatOrientation: orientation.Identity}})
	p.Handle(thigh)
	p.Handle(shank)
	if _, ok := joints.Segment(1); ok {
		t.Fatalf("publisher fed the tracker it was given")
	}
	if got := client.topics(); len(got) != 2 {
		t.Fatalf("topics = %v, want node topics only", got)
	}

	joints.Update(thigh)
	joints.Update(shank)
	p.Handle(shank)
	if got := client.topics(); got[len(got)-1] != "gait/joints" {
		t.Fatalf("topics = %v, want joints after the tracker has an angle", got)
	}
}

func TestPublisherCountsFailures(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := NewPublisher(client, "gait", Msgpack, nil)
	p.Handle(sample.FromFlex(sample.FlexSample{Node: 2}))
	if p.Failed() != 1 || p.Sent() != 0 {
		t.Fatalf("Sent()=%d Failed()=%d, want 0 and 1", p.Sent(), p.Failed())
	}
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "gait", JSON, nil)
	ch := make(chan sample.Sample, 2)
	ch <- sample.FromFlex(sample.FlexSample{Node: 1})
	ch <- sample.FromFlex(sample.FlexSample{Node: 2})
	close(ch)

	p.Run(context.Background(), ch)
	if len(client.topics()) != 2 {
		t.Fatalf("published %d messages, want 2", len(client.topics()))
	}
}
