package events

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	subjectPrefix = "zentro.changes."
	originHeader  = "Zentro-Origin"
)

// NATSBus delivers publishes locally and mirrors them to other nodes over
// NATS. Notifications coming back from this node are dropped.
type NATSBus struct {
	*MemoryBus
	conn   *nats.Conn
	sub    *nats.Subscription
	nodeID string
}

func NewNATSBus(url string) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name("zentro"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("events: disconnected from nats err=%v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("events: reconnected to nats url=%s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("events: nats connection closed")
		}),
		nats.Timeout(10 * time.Second),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	b := &NATSBus{
		MemoryBus: NewMemoryBus(),
		conn:      conn,
		nodeID:    uuid.NewString(),
	}

	b.sub, err = conn.Subscribe(subjectPrefix+">", b.receive)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}
	return b, nil
}

func (b *NATSBus) receive(msg *nats.Msg) {
	if msg.Header.Get(originHeader) == b.nodeID {
		return
	}
	b.MemoryBus.Publish(strings.TrimPrefix(msg.Subject, subjectPrefix))
}

func (b *NATSBus) Publish(topic string) {
	b.MemoryBus.Publish(topic)

	msg := nats.NewMsg(subjectPrefix + topic)
	msg.Header.Set(originHeader, b.nodeID)
	if err := b.conn.PublishMsg(msg); err != nil {
		log.Printf("events: failed to publish topic=%s err=%v", topic, err)
	}
}

func (b *NATSBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *NATSBus) Close() error {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			log.Printf("events: failed to unsubscribe err=%v", err)
		}
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	return b.MemoryBus.Close()
}
