package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/gait_computer/internal/bus"
	"github.com/relabs-tech/gait_computer/internal/orientation"
	"github.com/relabs-tech/gait_computer/internal/processing"
	"github.com/relabs-tech/gait_computer/internal/ringbuf"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHistoryAndJointsEndpoints(t *testing.T) {
	h := ringbuf.NewHistory(4)
	jt := processing.NewJointTracker(processing.DefaultJoints)
	srv := httptest.NewServer(NewServer(Options{
		History: h,
		Joints:  jt,
		Status:  func() any { return map[string]int{"frames": 7} },
	}).Handler())
	defer srv.Close()

	if code := getJSON(t, srv.URL+"/api/joints", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("/api/joints before data = %d, want 503", code)
	}

	for _, n := range []sample.NodeID{2, 4} {
		s := sample.FromImu(sample.ImuSample{Node: n, Position: sample.PositionSample{QuatOrientation: orientation.Identity}})
		h.Add(s)
		jt.Update(s)
	}

	var snap ringbuf.Snapshot
	if code := getJSON(t, srv.URL+"/api/history", &snap); code != http.StatusOK {
		t.Fatalf("/api/history = %d", code)
	}
	if len(snap.Imu[2]) != 1 || len(snap.Imu[4]) != 1 {
		t.Fatalf("history snapshot = %+v", snap.Imu)
	}

	var angles []processing.JointAngle
	if code := getJSON(t, srv.URL+"/api/joints", &angles); code != http.StatusOK {
		t.Fatalf("/api/joints = %d", code)
	}
	if len(angles) != 1 || angles[0].Joint != "right_knee" || angles[0].Degrees > 1e-6 {
		t.Fatalf("angles = %+v, want right_knee at 0 degrees", angles)
	}

	var status map[string]int
	if code := getJSON(t, srv.URL+"/api/status", &status); code != http.StatusOK || status["frames"] != 7 {
		t.Fatalf("/api/status = %d %v", code, status)
	}
}

func TestDisabledEndpoints(t *testing.T) {
	srv := httptest.NewServer(NewServer(Options{}).Handler())
	defer srv.Close()
	for _, path := range []string{"/api/history", "/api/joints", "/api/status", "/ws"} {
		if code := getJSON(t, srv.URL+path, nil); code != http.StatusServiceUnavailable {
			t.Errorf("%s = %d, want 503", path, code)
		}
	}
}

func TestStreamDeliversPublishedSamples(t *testing.T) {
	b := bus.New()
	s := NewServer(Options{Bus: b})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	b.Publish(sample.FromFlex(sample.FlexSample{Node: 2, TimestampMs: 40}))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if msg.Type != "sample" || msg.Sample == nil || msg.Sample.Kind != sample.KindFlex || msg.Sample.Node() != 2 {
		t.Fatalf("message = %+v", msg)
	}
	if msg.Sample.TimestampMs() != 40 {
		t.Fatalf("timestamp = %v, want 40", msg.Sample.TimestampMs())
	}

	// Closing the bus ends the stream.
	b.Close()
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("stream still open after bus close")
	}
}
