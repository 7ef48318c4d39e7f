// Package push carries notifications from the whisper core to client caches.
// Delivery is fire-and-forget: senders report transport errors to the caller
// for logging, but nothing is acknowledged or retried.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rcliao/aangan/internal/logger"
)

// DefaultChannel is the Redis channel notifications are published on.
const DefaultChannel = "aangan:push"

// Notification is the payload shown to the user.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Target is where a click on n should lead; the application root by default.
func (n Notification) Target() string {
	if strings.TrimSpace(n.URL) == "" {
		return "/"
	}
	return n.URL
}

// Validate rejects a notification with nothing to show.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Body) == "" {
		return errors.New("notification needs a title or body")
	}
	return nil
}

// Message addresses a notification to a set of client registration tokens.
type Message struct {
	Notification
	Tokens []string  `json:"tokens"`
	SentAt time.Time `json:"sent_at"`
}

// Sender delivers messages to the push gateway.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Publisher sends messages as JSON over Redis pub/sub.
type Publisher struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string
}

// NewPublisher connects to Redis at addr.
func NewPublisher(ctx context.Context, addr, channel string, log *logger.Logger) (*Publisher, error) {
	rdb, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{log: log.With("service", "PushPublisher"), rdb: rdb, channel: channel}, nil
}

func (p *Publisher) Send(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	n, err := p.rdb.Publish(ctx, p.channel, raw).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	p.log.Debug("push_published", "channel", p.channel, "receivers", n, "tokens", len(msg.Tokens))
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}

// LogSender only logs messages. Used when no Redis address is configured.
type LogSender struct {
	Log *logger.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Log.Info("push_logged", "title", msg.Title, "url", msg.Target(), "tokens", len(msg.Tokens))
	return nil
}

func (LogSender) Close() error { return nil }

// Subscriber receives published messages.
type Subscriber struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string
}

// NewSubscriber connects to Redis at addr.
func NewSubscriber(ctx context.Context, addr, channel string, log *logger.Logger) (*Subscriber, error) {
	rdb, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{log: log.With("service", "PushSubscriber"), rdb: rdb, channel: channel}, nil
}

// Listen calls onMsg for every message until ctx is cancelled.
func (s *Subscriber) Listen(ctx context.Context, onMsg func(Message)) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok || m == nil {
				return nil
			}
			msg, err := Decode([]byte(m.Payload))
			if err != nil {
				s.log.Warn("bad push payload", "error", err)
				continue
			}
			onMsg(msg)
		}
	}
}

func (s *Subscriber) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Decode parses a published message.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func dial(ctx context.Context, addr string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("missing redis address")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

var (
	_ Sender = (*Publisher)(nil)
	_ Sender = LogSender{}
)
