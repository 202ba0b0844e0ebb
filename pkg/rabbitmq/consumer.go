package rabbitmq

import (
	"context"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
)

// Handler processes one message received on topic.
type Handler func(topic string, message mqtt.Message) error

// Consumer subscribes a handler to a set of topics (wildcards allowed).
type Consumer struct {
	client  mqtt.Client
	topics  []string
	handler Handler
	logger  zerolog.Logger
}

func NewConsumer(client mqtt.Client, handler Handler, topics ...string) *Consumer {
	return &Consumer{
		client:  client,
		topics:  topics,
		handler: handler,
		logger:  log.WithComponent("mqtt.consumer"),
	}
}

func (c *Consumer) SetHandler(handler Handler) { c.handler = handler }

// QoSFor returns the subscription QoS: operator conversations need
// at-least-once delivery, everything else is best effort.
func QoSFor(topic string) byte {
	if strings.HasPrefix(strings.TrimSpace(topic), "irrigation/operator/") {
		return 1
	}
	return 0
}

// Subscribe registers every topic and returns the first failure.
func (c *Consumer) Subscribe() error {
	for _, topic := range c.topics {
		topic := topic
		token := c.client.Subscribe(topic, QoSFor(topic), func(_ mqtt.Client, msg mqtt.Message) {
			if c.handler == nil {
				c.logger.Warn().Str("topic", topic).Msg("no handler set")
				return
			}
			if err := c.handler(msg.Topic(), msg); err != nil {
				c.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("error handling message")
			}
		})
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		c.logger.Info().Str("topic", topic).Msg("subscribed")
	}
	return nil
}

// ConsumeMessage subscribes and blocks until ctx is cancelled, then
// unsubscribes.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	if err := c.Subscribe(); err != nil {
		return err
	}
	<-ctx.Done()
	c.client.Unsubscribe(c.topics...).Wait()
	return nil
}
