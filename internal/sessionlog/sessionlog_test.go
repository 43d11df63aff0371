package sessionlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"

	"github.com/relabs-tech/gait_computer/internal/sample"
)

type memorySink struct {
	header []string
	rows   [][]float64
	closed bool
}

func (m *memorySink) WriteHeader(columns []string) error {
	m.header = append([]string(nil), columns...)
	return nil
}

func (m *memorySink) WriteRow(values []float64) error {
	m.rows = append(m.rows, append([]float64(nil), values...))
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func col(t *testing.T, header []string, name string) int {
	t.Helper()
	i := slices.Index(header, name)
	if i < 0 {
		t.Fatalf("column %q not in header", name)
	}
	return i
}

func TestColumnsAreDeterministic(t *testing.T) {
	cols := Columns(DefaultRoles)
	if cols[0] != "timestamp_ms" {
		t.Fatalf("first column = %q", cols[0])
	}
	// 29 IMU fields per node, 4 per flex sensor, 34 per insole.
	if want := 1 + 4*29 + 2*4 + 2*34; len(cols) != want {
		t.Fatalf("len(Columns) = %d, want %d", len(cols), want)
	}
	if !slices.Equal(cols, Columns(DefaultRoles)) {
		t.Fatalf("Columns is not stable")
	}

	order := []string{
		"node_1_imu_accel_x", "node_1_flex_bend_angle_deg",
		"node_2_imu_accel_x", "node_2_flex_resistance",
		"node_3_imu_quat_w", "node_3_insole_sensor_0_adc", "node_3_insole_cop_y_cm",
		"node_4_imu_calibration_mag", "node_4_insole_force_7",
	}
	last := -1
	for _, name := range order {
		i := col(t, cols, name)
		if i <= last {
			t.Fatalf("column %q at %d is out of order", name, i)
		}
		last = i
	}

	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c] {
			t.Fatalf("duplicate column %q", c)
		}
		seen[c] = true
	}
}

func TestUpdateWritesOneRowPerEventWithDefaults(t *testing.T) {
	sink := &memorySink{}
	l := New(sink, nil)

	imu := sample.ImuSample{Node: 2, Gyro: sample.Axis3D{X: 7}, TimestampMs: 15}
	if err := l.Update(sample.FromImu(imu)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	flex := sample.FromFlex(sample.FlexSample{Node: 1, TimestampMs: 20})
	flex.Flex.BendAngleDegrees = 31000
	if err := l.Update(flex); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if len(sink.rows) != 2 || l.Rows() != 2 {
		t.Fatalf("rows = %d (Rows() %d), want 2", len(sink.rows), l.Rows())
	}
	if len(sink.header) != len(sink.rows[0]) {
		t.Fatalf("header has %d columns, row has %d", len(sink.header), len(sink.rows[0]))
	}

	h := sink.header
	first, second := sink.rows[0], sink.rows[1]
	if first[0] != 15 || second[0] != 20 {
		t.Fatalf("timestamps = %v, %v", first[0], second[0])
	}
	if first[col(t, h, "node_2_imu_gyro_x")] != 7 {
		t.Fatalf("node 2 gyro not flattened")
	}
	// Nodes that have not reported carry an identity orientation.
	if first[col(t, h, "node_4_imu_quat_w")] != 1 {
		t.Fatalf("default quaternion w = %v, want 1", first[col(t, h, "node_4_imu_quat_w")])
	}
	// The second row still carries node 2's last known state.
	if second[col(t, h, "node_2_imu_gyro_x")] != 7 || second[col(t, h, "node_1_flex_bend_angle_deg")] != 31000 {
		t.Fatalf("second row lost cached state")
	}
}

func TestUpdateIgnoresUntrackedSamples(t *testing.T) {
	sink := &memorySink{}
	l := New(sink, nil)

	if err := l.Update(sample.FromImu(sample.ImuSample{Node: 9})); err != nil {
		t.Fatal(err)
	}
	// Node 1 carries a flex sensor, not an insole.
	if err := l.Update(sample.FromInsole(sample.InsoleSample{Node: 1})); err != nil {
		t.Fatal(err)
	}
	if len(sink.rows) != 0 || sink.header != nil {
		t.Fatalf("untracked samples produced output: %d rows", len(sink.rows))
	}
}

func TestCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.csv")
	sink, err := NewCSVSink(path)
	if err != nil {
		t.Fatalf("NewCSVSink() error: %v", err)
	}
	l := New(sink, nil)

	insole := sample.FromInsole(sample.InsoleSample{Node: 3, TimestampMs: 2.5})
	insole.Insole.ForceCenterX = -1.25
	for i := 0; i < 3; i++ {
		l.Handle(insole)
	}

	// Rows are flushed as they are written.
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(f).ReadAll()
	f.Close()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("csv has %d records, want header + 3 rows", len(records))
	}
	if !slices.Equal(records[0], l.Columns()) {
		t.Fatalf("csv header differs from Columns()")
	}
	i := col(t, records[0], "node_3_insole_cop_x_cm")
	if v, _ := strconv.ParseFloat(records[3][i], 64); v != -1.25 {
		t.Fatalf("cop_x = %q, want -1.25", records[3][i])
	}
	if records[1][0] != "2.5" {
		t.Fatalf("timestamp = %q, want 2.5", records[1][0])
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestCSVSinkAppendsSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.csv")
	for session, rows := range []int{2, 3} {
		sink, err := NewCSVSink(path)
		if err != nil {
			t.Fatalf("session %d: NewCSVSink() error: %v", session, err)
		}
		l := New(sink, nil)
		for i := 0; i < rows; i++ {
			if err := l.Update(sample.FromImu(sample.ImuSample{Node: 1, TimestampMs: float64(10*session + i)})); err != nil {
				t.Fatalf("session %d: Update() error: %v", session, err)
			}
		}
		if err := l.Close(); err != nil {
			t.Fatalf("session %d: Close() error: %v", session, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	// header + 2 rows, then header + 3 rows
	if len(records) != 7 {
		t.Fatalf("csv has %d records, want 7", len(records))
	}
	if records[0][0] != "timestamp_ms" || records[3][0] != "timestamp_ms" {
		t.Fatalf("missing session headers: %q, %q", records[0][0], records[3][0])
	}
	if records[1][0] != "0" || records[6][0] != "12" {
		t.Fatalf("timestamps = %q .. %q, want 0 .. 12", records[1][0], records[6][0])
	}
}

func TestSQLiteSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	sink, err := NewSQLiteSink(path, "session-a", "test")
	if err != nil {
		t.Fatalf("NewSQLiteSink() error: %v", err)
	}
	if err := sink.WriteRow([]float64{1}); err == nil {
		t.Fatalf("WriteRow before header succeeded")
	}

	l := New(sink, nil)
	for i := 0; i < 5; i++ {
		if err := l.Update(sample.FromImu(sample.ImuSample{Node: 1, TimestampMs: float64(i)})); err != nil {
			t.Fatalf("Update() error: %v", err)
		}
	}
	n, err := sink.Rows()
	if err != nil {
		t.Fatalf("Rows() error: %v", err)
	}
	if n != 5 {
		t.Fatalf("Rows() = %d, want 5", n)
	}
	if err := sink.WriteRow([]float64{1, 2}); err == nil {
		t.Fatalf("WriteRow with the wrong width succeeded")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// A second session appends to the same table.
	again, err := NewSQLiteSink(path, "session-b", "test")
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer again.Close()
	l2 := New(again, nil)
	if err := l2.Update(sample.FromFlex(sample.FlexSample{Node: 2})); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if n, err := again.Rows(); err != nil || n != 1 {
		t.Fatalf("second session Rows() = %d, %v; want 1", n, err)
	}
}
