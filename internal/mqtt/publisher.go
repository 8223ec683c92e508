package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hanig/hani-replica/internal/config"
	"github.com/hanig/hani-replica/internal/heartbeat"
)

// ErrNotConnected is returned by Notify before the first connection.
var ErrNotConnected = errors.New("mqtt publisher not connected")

// StatsSource provides runtime data for the sensors. The adapter is
// built in main to keep this package away from the bot internals.
type StatsSource interface {
	Uptime() time.Duration
	Version() string
	DefaultModel() string
	// ActiveConversations counts in-memory conversations.
	ActiveConversations() int
	// LastRequestTime is when the last message was handled.
	LastRequestTime() time.Time
}

// Publisher owns the broker connection. It announces Home Assistant
// sensors on every (re-)connect, publishes their states on an interval,
// delivers heartbeat notifications and, when an ask handler is set,
// answers questions sent to the ask topic.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	counters   *DailyCounters
	stats      StatsSource
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager

	ask     AskHandler
	limiter *messageRateLimiter
}

// New creates a Publisher but does not connect. Call [Publisher.Start].
func New(cfg config.MQTTConfig, instanceID string, counters *DailyCounters, stats StatsSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = NewDailyCounters(nil)
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		counters:   counters,
		stats:      stats,
		logger:     logger,
		limiter:    newMessageRateLimiter(askRateLimit, time.Minute, logger),
	}
}

// SetAskHandler enables the ask topic. Call before Start.
func (p *Publisher) SetAskHandler(h AskHandler) { p.ask = h }

// Start connects and runs the state loop until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			if p.ask != nil {
				p.subscribeAsk(ctx, cm)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "hani-replica-" + p.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					p.handleInbound(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	go p.limiter.start(ctx)
	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// Notify publishes a heartbeat notification to <base>/notify/<user>.
// It satisfies heartbeat.Notifier.
func (p *Publisher) Notify(ctx context.Context, userID string, n heartbeat.Notification) error {
	if p.cm == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(notifyPayload{
		Type:      n.Type,
		Key:       n.Key,
		Text:      n.Text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.notifyTopic(userID),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

type notifyPayload struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts"`
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return strings.TrimSuffix(p.cfg.BaseTopic, "/")
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) notifyTopic(userID string) string {
	return p.baseTopic() + "/notify/" + topicSegment(userID)
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// topicSegment keeps a user ID from adding levels or wildcards.
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// --- Discovery ---

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensor(entity, name, icon string, opts func(*SensorConfig)) sensorDef {
	c := SensorConfig{
		Name:              name,
		ObjectID:          entity,
		HasEntityName:     true,
		UniqueID:          p.instanceID + "_" + entity,
		StateTopic:        p.stateTopic(entity),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
		Icon:              icon,
	}
	if opts != nil {
		opts(&c)
	}
	return sensorDef{entity: entity, config: c}
}

func diagnostic(c *SensorConfig) { c.EntityCategory = "diagnostic" }

func counter(unit string) func(*SensorConfig) {
	return func(c *SensorConfig) {
		c.StateClass = "total_increasing"
		c.UnitOfMeasurement = unit
	}
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	return []sensorDef{
		p.sensor("uptime", "Uptime", "mdi:clock-outline", diagnostic),
		p.sensor("version", "Version", "mdi:tag", diagnostic),
		p.sensor("default_model", "Default Model", "mdi:brain", diagnostic),
		p.sensor("last_request", "Last Request", "mdi:clock-check", diagnostic),
		p.sensor("active_conversations", "Active Conversations", "mdi:chat-processing",
			func(c *SensorConfig) { c.StateClass = "measurement" }),
		p.sensor("tokens_today", "Tokens Today", "mdi:counter", counter("tokens")),
		p.sensor("messages_today", "Messages Today", "mdi:message-text", counter("messages")),
		p.sensor("threats_today", "Threats Today", "mdi:shield-alert", counter("threats")),
		p.sensor("notifications_today", "Notifications Today", "mdi:bell-ring", counter("notifications")),
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entity)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
		}
	}
	p.logger.Debug("mqtt discovery published")
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

// --- Periodic state loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.cfg.PublishIntervalSec) * time.Second)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// states renders the current sensor values.
func (p *Publisher) states() map[string]string {
	c := p.counters.Snapshot()
	out := map[string]string{
		"tokens_today":        strconv.FormatInt(c.InputTokens+c.OutputTokens, 10),
		"messages_today":      strconv.FormatInt(c.Messages, 10),
		"threats_today":       strconv.FormatInt(c.Threats, 10),
		"notifications_today": strconv.FormatInt(c.Notifications, 10),
	}
	if p.stats == nil {
		return out
	}
	out["uptime"] = p.stats.Uptime().Truncate(time.Second).String()
	out["version"] = p.stats.Version()
	out["default_model"] = p.stats.DefaultModel()
	out["active_conversations"] = strconv.Itoa(p.stats.ActiveConversations())
	out["last_request"] = "never"
	if t := p.stats.LastRequestTime(); !t.IsZero() {
		out["last_request"] = t.Format(time.RFC3339)
	}
	return out
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}
	states := p.states()
	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}
