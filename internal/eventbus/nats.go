/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_tsn/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "heimdall",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus mirrors the in-process event bus onto NATS subjects so other
// instances and external consumers see the same event stream. Local
// delivery always goes through the in-memory bus; NATS adds the
// cross-node leg.
type NATSBus struct {
	conn   *nats.Conn
	local  *events.Bus
	logger zerolog.Logger
	prefix string
	nodeID string
	subs   []*nats.Subscription
}

// NewNATSBus connects to NATS and bridges every known event type into
// the local bus.
func NewNATSBus(cfg NATSConfig, local *events.Bus, logger zerolog.Logger) (*NATSBus, error) {
	log := logger.With().Str("component", "natsbus").Logger()

	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	nb := &NATSBus{
		conn:   conn,
		local:  local,
		logger: log,
		prefix: cfg.SubjectPrefix,
		nodeID: generateNodeID(),
	}

	for _, eventType := range events.Types() {
		sub, err := conn.Subscribe(nb.subject(eventType), nb.makeHandler(eventType))
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", nb.subject(eventType), err)
		}
		nb.subs = append(nb.subs, sub)
	}

	log.Info().Str("url", cfg.URL).Str("node_id", nb.nodeID).Msg("nats event bus initialized")
	return nb, nil
}

func (nb *NATSBus) subject(eventType events.EventType) string {
	return fmt.Sprintf("%s.events.%s", nb.prefix, eventType)
}

func (nb *NATSBus) makeHandler(eventType events.EventType) nats.MsgHandler {
	return func(msg *nats.Msg) {
		wire, err := unmarshalWireMessage(msg.Data)
		if err != nil {
			nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("bad nats message")
			return
		}
		// Events we published come back on the same subject; drop them.
		if wire.NodeID == nb.nodeID {
			return
		}
		if wire.Payload == nil {
			wire.Payload = events.Payload{}
		}
		wire.Payload[OriginKey] = wire.NodeID
		nb.local.Publish(eventType, wire.Payload)
	}
}

// Publish mirrors a locally-originated event onto its NATS subject.
// Local delivery already happened on the in-process bus.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	data, err := marshalWireMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("marshal nats message")
		return
	}
	if err := nb.conn.Publish(nb.subject(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("publish to nats")
	}
}

// Close drains the subscriptions and closes the connection.
func (nb *NATSBus) Close() error {
	for _, sub := range nb.subs {
		_ = sub.Unsubscribe()
	}
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return err
	}
	return nil
}

// wireMessage is the cross-node envelope.
type wireMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalWireMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(wireMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalWireMessage(data []byte) (*wireMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "node"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
