// Package rabbitmqtest provides an in-memory mqtt.Client for tests.
package rabbitmqtest

import (
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Published is a message recorded by Client.Publish.
type Published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// Client routes published and delivered messages in memory.
type Client struct {
	mu        sync.Mutex
	connected bool
	subs      map[string]mqtt.MessageHandler
	published []Published
	// PublishErr, when set, fails every Publish.
	PublishErr error
}

var _ mqtt.Client = (*Client)(nil)

func NewClient() *Client {
	return &Client{connected: true, subs: make(map[string]mqtt.MessageHandler)}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return done(nil)
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr != nil {
		return done(c.PublishErr)
	}
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = append([]byte(nil), p...)
	case string:
		b = []byte(p)
	default:
		return done(fmt.Errorf("unsupported payload %T", payload))
	}
	c.published = append(c.published, Published{Topic: topic, QoS: qos, Payload: b})
	return done(nil)
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subs[topic] = callback
	c.mu.Unlock()
	return done(nil)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, callback)
	}
	return done(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	return done(nil)
}

func (c *Client) AddRoute(topic string, callback mqtt.MessageHandler) { c.Subscribe(topic, 0, callback) }

func (c *Client) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.NewOptionsReader(mqtt.NewClientOptions())
}

// Deliver hands payload to every subscription matching topic and reports
// how many handlers ran.
func (c *Client) Deliver(topic string, payload []byte) int {
	c.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, h := range c.subs {
		if Match(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(c, &Message{topic: topic, payload: payload})
	}
	return len(handlers)
}

// Published returns a copy of every published message.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// Subscriptions lists the active topic filters.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}

// Match reports whether topic matches the MQTT filter (+ and # wildcards).
func Match(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if part != "+" && part != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

// Message implements mqtt.Message.
type Message struct {
	topic   string
	payload []byte
}

func NewMessage(topic string, payload []byte) *Message {
	return &Message{topic: topic, payload: payload}
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 1 }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.topic }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Ack()              {}

type token struct {
	err  error
	done chan struct{}
}

func done(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }
