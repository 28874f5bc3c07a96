package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const bridgeSubjectPrefix = "quiz.events"

// bridgeFrame is the NATS wire form of a hub message. Origin lets each
// instance drop its own echoes.
type bridgeFrame struct {
	Origin  string          `json:"origin"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// NATSBridge mirrors hub publishes across process instances so every
// gateway replica delivers the same in-round events regardless of which
// instance runs a competition's orchestrator loop.
type NATSBridge struct {
	nc         *nats.Conn
	hub        *Hub
	sub        *nats.Subscription
	instanceID string
}

// NewNATSBridge connects to NATS and attaches itself to h as its remote
// publisher.
func NewNATSBridge(url string, h *Hub) (*NATSBridge, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	b := &NATSBridge{
		nc:         nc,
		hub:        h,
		instanceID: uuid.New().String()[:8],
	}

	sub, err := nc.Subscribe(bridgeSubjectPrefix+".>", b.handleMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe hub bridge: %w", err)
	}
	b.sub = sub

	h.SetRemote(b)
	log.Info().Str("instance", b.instanceID).Msg("hub NATS bridge started")
	return b, nil
}

// PublishRemote implements RemotePublisher.
func (b *NATSBridge) PublishRemote(channel Channel, data []byte) error {
	frame, err := json.Marshal(bridgeFrame{
		Origin:  b.instanceID,
		Channel: string(channel),
		Data:    data,
	})
	if err != nil {
		return fmt.Errorf("marshal bridge frame: %w", err)
	}
	return b.nc.Publish(bridgeSubjectPrefix+"."+string(channel), frame)
}

func (b *NATSBridge) handleMessage(msg *nats.Msg) {
	var frame bridgeFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("malformed bridge frame")
		return
	}
	if frame.Origin == b.instanceID {
		return
	}
	b.hub.Inject(Channel(frame.Channel), frame.Data)
}

// Close drains the subscription and closes the connection.
func (b *NATSBridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.nc != nil {
		b.nc.Close()
	}
}
