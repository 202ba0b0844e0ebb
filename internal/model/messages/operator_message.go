package messages

import "time"

// InboundMessage is a text sent by an operator over the chat transport.
type InboundMessage struct {
	MessageID  string    `json:"message_id"`
	OperatorID string    `json:"operator_id"`
	PlotID     string    `json:"plot_id,omitempty"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// OutboundPrompt is a text addressed to an operator, optionally with a set
// of quick-reply options the transport may render as a keyboard.
type OutboundPrompt struct {
	MessageID  string    `json:"message_id"`
	OperatorID string    `json:"operator_id"`
	ChatHandle string    `json:"chat_handle,omitempty"`
	PlotID     string    `json:"plot_id,omitempty"`
	Text       string    `json:"text"`
	Keyboard   []string  `json:"keyboard,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}
