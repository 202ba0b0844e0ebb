package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
)

// Publisher sends messages on an MQTT client.
type Publisher struct {
	client mqtt.Client
	qos    byte
	logger zerolog.Logger
}

func NewPublisher(client mqtt.Client, qos byte) *Publisher {
	return &Publisher{client: client, qos: qos, logger: log.WithComponent("mqtt.publisher")}
}

// PublishMessage publishes message on topic. Strings and byte slices are
// sent as is, anything else as JSON. It waits for the broker until ctx is
// done.
func (p *Publisher) PublishMessage(ctx context.Context, topic string, message any) error {
	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		b, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("encode message for %s: %w", topic, err)
		}
		payload = b
	}

	token := p.client.Publish(topic, p.qos, false, payload)
	wait := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		wait = time.Until(dl)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", topic, err)
	}
	p.logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("message published")
	return nil
}

func (p *Publisher) Close() { CloseRabbitMQConn(p.client) }
