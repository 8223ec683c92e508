package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// askRateLimit caps inbound questions per minute across all users.
const askRateLimit = 30

// AskHandler answers a question received on <base>/ask/<user>. The
// reply is published to <base>/reply/<user>.
type AskHandler func(ctx context.Context, userID, text string) (string, error)

// askRequest is the inbound payload. A bare string payload is accepted
// as the text.
type askRequest struct {
	Text string `json:"text"`
	// ID is echoed in the reply so callers can correlate.
	ID string `json:"id,omitempty"`
}

type askReply struct {
	ID    string `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func (p *Publisher) askFilter() string { return p.baseTopic() + "/ask/+" }

func (p *Publisher) replyTopic(userID string) string {
	return p.baseTopic() + "/reply/" + topicSegment(userID)
}

// askUser extracts the user from an ask topic, or "".
func (p *Publisher) askUser(topic string) string {
	prefix := p.baseTopic() + "/ask/"
	if !strings.HasPrefix(topic, prefix) {
		return ""
	}
	user := strings.TrimPrefix(topic, prefix)
	if user == "" || strings.Contains(user, "/") {
		return ""
	}
	return user
}

func (p *Publisher) subscribeAsk(ctx context.Context, cm *autopaho.ConnectionManager) {
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: p.askFilter(), QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt ask subscribe failed", "topic", p.askFilter(), "error", err)
		return
	}
	p.logger.Info("mqtt ask topic subscribed", "topic", p.askFilter())
}

// handleInbound runs on the paho receive goroutine; the answer is
// produced on its own goroutine so a slow agent run never stalls the
// connection.
func (p *Publisher) handleInbound(ctx context.Context, topic string, payload []byte) {
	user := p.askUser(topic)
	if user == "" || p.ask == nil {
		p.logger.Debug("mqtt message ignored", "topic", topic, "payload_size", len(payload))
		return
	}
	if !p.limiter.allow() {
		return
	}
	req := parseAsk(payload)
	if req.Text == "" {
		p.logger.Debug("mqtt empty ask ignored", "topic", topic)
		return
	}
	go p.answer(ctx, user, req)
}

func (p *Publisher) answer(ctx context.Context, user string, req askRequest) {
	reply := askReply{ID: req.ID}
	text, err := p.ask(ctx, user, req.Text)
	if err != nil {
		p.logger.Warn("mqtt ask failed", "user_id", user, "error", err)
		reply.Error = err.Error()
	} else {
		reply.Text = text
	}
	payload, _ := json.Marshal(reply)
	if p.cm == nil {
		return
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.replyTopic(user),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("mqtt reply publish failed", "user_id", user, "error", err)
	}
}

func parseAsk(payload []byte) askRequest {
	var req askRequest
	if err := json.Unmarshal(payload, &req); err == nil {
		req.Text = strings.TrimSpace(req.Text)
		return req
	}
	return askRequest{Text: strings.TrimSpace(string(payload))}
}

// messageRateLimiter drops inbound messages past limit per interval.
// Counters are atomic so the receive path never takes a lock.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{limit: limit, interval: interval, logger: logger}
}

// start resets the counters every interval until ctx is cancelled,
// warning when anything was dropped.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			if dropped := r.dropped.Swap(0); dropped > 0 {
				r.logger.Warn("mqtt messages dropped due to rate limit",
					"received", count,
					"dropped", dropped,
					"interval", r.interval.String(),
					"limit", r.limit,
				)
			}
		}
	}
}

func (r *messageRateLimiter) allow() bool {
	if r.count.Add(1) > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
