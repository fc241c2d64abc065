// Package transport bridges the board to the mesh messaging network.
package transport

import (
	"context"
	"errors"
)

// Broadcast is the destination that reaches every node.
const Broadcast = ""

// ErrClosed is returned when sending on a transport that has been closed.
var ErrClosed = errors.New("transport closed")

// Message is one inbound text from a node.
type Message struct {
	Text       string `json:"text"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
}

// Handler processes inbound messages, one at a time.
type Handler func(ctx context.Context, msg Message)

// Sender delivers a text to one node, or to all nodes when destination is Broadcast.
type Sender interface {
	Send(ctx context.Context, text, destination string) error
}

// Transport is a Sender that also produces inbound messages.
type Transport interface {
	Sender
	// Listen blocks delivering inbound messages to h until ctx is done or
	// the underlying source ends.
	Listen(ctx context.Context, h Handler) error
	Close() error
}

// outbound is the wire shape of a sent message.
type outbound struct {
	Text        string `json:"text"`
	Destination string `json:"destination,omitempty"`
}
