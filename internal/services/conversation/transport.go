package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
	"github.com/LeonardoBeccarini/irrigation_session/internal/metrics"
	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
	"github.com/LeonardoBeccarini/irrigation_session/pkg/dedup"
	"github.com/LeonardoBeccarini/irrigation_session/pkg/rabbitmq"
)

// InboundTopic is the subscription filter for operator messages; the
// second-to-last segment is the operator id.
const InboundTopic = "irrigation/operator/+/inbound"

// OutboundTopic is where prompts for operatorID are published.
func OutboundTopic(operatorID string) string {
	return "irrigation/operator/" + operatorID + "/outbound"
}

func operatorFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 4 && parts[0] == "irrigation" && parts[1] == "operator" {
		return parts[2]
	}
	return ""
}

// MQTTNotifier publishes prompts as JSON on the operator's outbound topic.
type MQTTNotifier struct {
	pub *rabbitmq.Publisher
}

var _ Notifier = (*MQTTNotifier)(nil)

func NewMQTTNotifier(pub *rabbitmq.Publisher) *MQTTNotifier { return &MQTTNotifier{pub: pub} }

func (n *MQTTNotifier) Send(ctx context.Context, p model.OutboundPrompt) error {
	return n.pub.PublishMessage(ctx, OutboundTopic(p.OperatorID), p)
}

// Inbound decodes operator messages, drops redeliveries and hands the rest
// to the engine.
type Inbound struct {
	engine  *Engine
	dedup   dedup.Deduper
	timeout time.Duration
	logger  zerolog.Logger
}

func NewInbound(engine *Engine, d dedup.Deduper, timeout time.Duration) *Inbound {
	if d == nil {
		d = dedup.NewMemory(0, 0)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Inbound{engine: engine, dedup: d, timeout: timeout, logger: log.WithComponent("conversation.inbound")}
}

// Handle is a rabbitmq.Handler. Payloads are JSON InboundMessage; a payload
// that is not JSON is taken as the message text.
func (in *Inbound) Handle(topic string, message mqtt.Message) error {
	msg, err := decodeInbound(topic, message.Payload())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), in.timeout)
	defer cancel()

	if msg.MessageID != "" && !in.dedup.ShouldProcess(ctx, msg.OperatorID+":"+msg.MessageID) {
		metrics.IncInboundDuplicate()
		in.logger.Debug().Str("message_id", msg.MessageID).Str("operator_id", msg.OperatorID).Msg("duplicate message dropped")
		return nil
	}

	err = in.engine.HandleMessage(ctx, msg)
	if err == nil || isOperatorError(err) {
		return nil
	}
	return fmt.Errorf("message %s from %s: %w", msg.MessageID, msg.OperatorID, err)
}

func decodeInbound(topic string, payload []byte) (model.InboundMessage, error) {
	var msg model.InboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		msg = model.InboundMessage{Text: string(payload)}
	}
	// the topic is the authenticated channel; the body may not name another operator
	if op := operatorFromTopic(topic); op != "" {
		if msg.OperatorID != "" && msg.OperatorID != op {
			return msg, fmt.Errorf("topic %s: body names operator %q", topic, msg.OperatorID)
		}
		msg.OperatorID = op
	}
	if msg.OperatorID == "" {
		return msg, fmt.Errorf("topic %s: no operator id", topic)
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	return msg, nil
}

// isOperatorError reports errors already answered to the operator.
func isOperatorError(err error) bool {
	for _, target := range []error{
		ErrInputFormat, ErrOrdering, ErrNothingToRecord, ErrAlreadyApplied,
		ErrNotEligible, ErrNoSession, ErrBusy, ErrStaleTimer,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
