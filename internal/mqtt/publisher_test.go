package mqtt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hanig/hani-replica/internal/config"
	"github.com/hanig/hani-replica/internal/events"
	"github.com/hanig/hani-replica/internal/heartbeat"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:             "mqtt://localhost:1883",
		BaseTopic:          "hani-replica/",
		DeviceName:         "replica-test",
		DiscoveryPrefix:    "homeassistant",
		PublishIntervalSec: 60,
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if len(strings.Split(first, "-")) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}
	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil || strings.TrimSpace(string(data)) != first {
		t.Errorf("file = %q, %v", data, err)
	}

	second, _ := LoadOrCreateInstanceID(dir)
	if second != first {
		t.Errorf("second = %q, want %q", second, first)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("test-instance-id", "test-device")
	if info.Name != "test-device" || len(info.Identifiers) != 1 || info.Identifiers[0] != "test-instance-id" {
		t.Errorf("device = %+v", info)
	}
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := New(testConfig(), "test-id", nil, nil, nil)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"availability", p.availabilityTopic(), "hani-replica/availability"},
		{"state", p.stateTopic("uptime"), "hani-replica/uptime/state"},
		{"discovery", p.discoveryTopic("sensor", "uptime"), "homeassistant/sensor/replica-test/uptime/config"},
		{"notify", p.notifyTopic("U1"), "hani-replica/notify/U1"},
		{"notify wildcard user", p.notifyTopic("a/+#"), "hani-replica/notify/a___"},
		{"ask filter", p.askFilter(), "hani-replica/ask/+"},
		{"reply", p.replyTopic("U1"), "hani-replica/reply/U1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, "instance-123", nil, nil, nil)

	want := []string{
		"uptime", "version", "default_model", "last_request", "active_conversations",
		"tokens_today", "messages_today", "threats_today", "notifications_today",
	}
	defs := p.sensorDefinitions()
	if len(defs) != len(want) {
		t.Fatalf("got %d sensor definitions, want %d", len(defs), len(want))
	}
	for i, d := range defs {
		if d.entity != want[i] {
			t.Errorf("sensor %d = %s, want %s", i, d.entity, want[i])
		}
		if strings.Contains(d.config.Name, cfg.DeviceName) {
			t.Errorf("sensor %s: name %q repeats the device name", d.entity, d.config.Name)
		}
		if d.config.AvailabilityTopic != "hani-replica/availability" || !d.config.HasEntityName {
			t.Errorf("sensor %s: config %+v", d.entity, d.config)
		}
		if d.config.UniqueID != "instance-123_"+d.entity || d.config.ObjectID != d.entity {
			t.Errorf("sensor %s: ids %q %q", d.entity, d.config.UniqueID, d.config.ObjectID)
		}
	}
}

type fakeStats struct{}

func (fakeStats) Uptime() time.Duration      { return 90*time.Minute + 500*time.Millisecond }
func (fakeStats) Version() string            { return "v1.0.0" }
func (fakeStats) DefaultModel() string       { return "claude-sonnet-4-20250514" }
func (fakeStats) ActiveConversations() int   { return 3 }
func (fakeStats) LastRequestTime() time.Time { return time.Time{} }

func TestPublisher_States(t *testing.T) {
	counters := NewDailyCounters(time.UTC)
	counters.OnTokens(100, 50)
	counters.Observe(events.Event{Kind: events.KindMessageHandled})
	counters.Observe(events.Event{Kind: events.KindNotification})

	p := New(testConfig(), "id", counters, fakeStats{}, nil)
	got := p.states()

	want := map[string]string{
		"uptime":               "1h30m0s",
		"version":              "v1.0.0",
		"default_model":        "claude-sonnet-4-20250514",
		"active_conversations": "3",
		"last_request":         "never",
		"tokens_today":         "150",
		"messages_today":       "1",
		"threats_today":        "0",
		"notifications_today":  "1",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if len(got) != len(p.sensorDefinitions()) {
		t.Errorf("states cover %d sensors, definitions %d", len(got), len(p.sensorDefinitions()))
	}
}

func TestPublisher_NotifyBeforeConnect(t *testing.T) {
	p := New(testConfig(), "id", nil, nil, nil)
	var n heartbeat.Notifier = p
	err := n.Notify(context.Background(), "U1", heartbeat.Notification{Type: heartbeat.TypeEmailAlert, Text: "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Notify err = %v", err)
	}
}

func TestMQTTConfig_Configured(t *testing.T) {
	if !(config.MQTTConfig{Broker: "mqtt://localhost"}).Configured() {
		t.Error("broker set but not configured")
	}
	if (config.MQTTConfig{DeviceName: "x"}).Configured() {
		t.Error("configured without a broker")
	}
}
