package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_session/pkg/rabbitmq/rabbitmqtest"
)

func TestConsumer_DeliversMatchingTopics(t *testing.T) {
	client := rabbitmqtest.NewClient()
	var got []string
	c := NewConsumer(client, func(topic string, msg mqtt.Message) error {
		got = append(got, topic+"="+string(msg.Payload()))
		return nil
	}, "irrigation/operator/+/inbound")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.ConsumeMessage(ctx) }()

	require.Eventually(t, func() bool { return len(client.Subscriptions()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, client.Deliver("irrigation/operator/op-1/inbound", []byte("12")))
	assert.Zero(t, client.Deliver("irrigation/operator/op-1/outbound", []byte("x")))

	cancel()
	require.NoError(t, <-errCh)
	assert.Empty(t, client.Subscriptions())
	assert.Equal(t, []string{"irrigation/operator/op-1/inbound=12"}, got)
}

func TestQoSFor(t *testing.T) {
	assert.Equal(t, byte(1), QoSFor("irrigation/operator/+/inbound"))
	assert.Equal(t, byte(0), QoSFor("irrigation/events"))
}

func TestPublisher_EncodesPayloads(t *testing.T) {
	client := rabbitmqtest.NewClient()
	p := NewPublisher(client, 1)
	ctx := context.Background()

	require.NoError(t, p.PublishMessage(ctx, "a", "plain"))
	require.NoError(t, p.PublishMessage(ctx, "b", map[string]int{"level": 3}))

	pub := client.Published()
	require.Len(t, pub, 2)
	assert.Equal(t, "plain", string(pub[0].Payload))
	var decoded map[string]int
	require.NoError(t, json.Unmarshal(pub[1].Payload, &decoded))
	assert.Equal(t, 3, decoded["level"])
	assert.Equal(t, byte(1), pub[1].QoS)

	client.PublishErr = errors.New("broker gone")
	assert.Error(t, p.PublishMessage(ctx, "c", "x"))
}

func TestMatch(t *testing.T) {
	assert.True(t, rabbitmqtest.Match("a/+/c", "a/b/c"))
	assert.True(t, rabbitmqtest.Match("a/#", "a/b/c"))
	assert.False(t, rabbitmqtest.Match("a/+", "a/b/c"))
	assert.False(t, rabbitmqtest.Match("a/b/c", "a/b"))
}

func TestCloseRabbitMQConn(t *testing.T) {
	client := rabbitmqtest.NewClient()
	pub := NewPublisher(client, 1)
	pub.Close()
	assert.False(t, client.IsConnected())

	// closing twice or closing nil is a no-op
	CloseRabbitMQConn(client)
	CloseRabbitMQConn(nil)
}

func TestFakeClient_OptionsReader(t *testing.T) {
	r := rabbitmqtest.NewClient().OptionsReader()
	assert.Empty(t, r.Servers())
}
