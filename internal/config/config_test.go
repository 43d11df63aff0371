package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadKeyValue(t *testing.T) {
	path := writeFile(t, "gait.conf", `
# receiver dongle
SERIAL_PORT = /dev/ttyACM1
SERIAL_BAUD_RATE=230400

CSV_PATH=/tmp/session.csv
MQTT_BROKER=tcp://localhost:1883
MQTT_ENCODING=MsgPack
LEFT_FOOT_NODE=4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SerialPort != "/dev/ttyACM1" || cfg.SerialBaudRate != 230400 {
		t.Fatalf("serial = %q @ %d", cfg.SerialPort, cfg.SerialBaudRate)
	}
	if cfg.CSVPath != "/tmp/session.csv" || cfg.MQTTEncoding != "msgpack" || cfg.LeftFootNode != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	// Untouched keys keep their defaults.
	if cfg.QueueCapacity != Default().QueueCapacity || cfg.MQTTTopicPrefix != "gait" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "gait.yaml", `
replay_path: session.bin
history_capacity: 50
web_server_port: 0
right_knee_distal: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ReplayPath != "session.bin" || cfg.HistoryCapacity != 50 || cfg.WebServerPort != 0 || cfg.RightKneeDistal != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.SerialBaudRate != 115200 {
		t.Fatalf("SerialBaudRate = %d, want default 115200", cfg.SerialBaudRate)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"unknown key", "a.conf", "FOO=1\n", `unknown config key: "FOO"`},
		{"missing equals", "b.conf", "SERIAL_PORT\n", "invalid config line 1"},
		{"bad int", "c.conf", "\nQUEUE_CAPACITY=lots\n", "config line 2: invalid QUEUE_CAPACITY"},
		{"zero queue", "d.conf", "QUEUE_CAPACITY=0\n", "QUEUE_CAPACITY must be at least 1"},
		{"bad encoding", "e.conf", "MQTT_ENCODING=xml\n", "MQTT_ENCODING must be json or msgpack"},
		{"bad port", "f.yml", "web_server_port: 70000\n", "WEB_SERVER_PORT must be 0-65535"},
		{"bad yaml", "g.yaml", "queue_capacity: [\n", "failed to parse config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want it to contain %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Fatalf("Load() of a missing file succeeded")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().validate(); err != nil {
		t.Fatalf("Default().validate() = %v", err)
	}
}
