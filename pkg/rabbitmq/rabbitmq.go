// Package rabbitmq connects to the MQTT broker (RabbitMQ with the MQTT
// plugin) and wraps topic subscription and publishing.
package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
)

type RabbitMQConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	ClientID   string
	MaxRetries int
	// CleanSession false keeps QoS 1 subscriptions across reconnects.
	CleanSession bool
}

// NewRabbitMQConn connects with exponential backoff and disconnects when
// ctx is done.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQConfig) (mqtt.Client, error) {
	logger := log.WithComponent("mqtt")
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt connection lost")
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Str("broker", connAddr).Msg("mqtt connected")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Warn().Err(token.Error()).Str("broker", connAddr).Msg("failed to connect to mqtt broker")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	go func() {
		<-ctx.Done()
		CloseRabbitMQConn(client)
	}()
	return client, nil
}

func CloseRabbitMQConn(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		logger := log.WithComponent("mqtt")
		logger.Info().Msg("mqtt connection closed")
	}
}
