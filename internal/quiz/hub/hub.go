package hub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/internal/quiz/events"
)

// Channel names a broadcast group. There is one lobby channel for
// competition-list changes and one channel per competition for in-round
// events.
type Channel string

// Lobby is the global competition-list channel.
const Lobby Channel = "lobby"

// Competition returns the per-competition channel.
func Competition(id uuid.UUID) Channel {
	return Channel("quiz_" + id.String())
}

// Subscriber receives marshaled event frames on Send. A subscriber that
// cannot keep up is dropped; Send is closed on unsubscribe either way.
type Subscriber struct {
	ID      string
	Channel Channel
	Send    chan []byte

	closeOnce sync.Once
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.Send) })
}

type message struct {
	channel Channel
	data    []byte
	remote  bool
}

// RemotePublisher mirrors local publishes to other instances. Implemented
// by the NATS bridge; nil when the process runs standalone.
type RemotePublisher interface {
	PublishRemote(channel Channel, data []byte) error
}

// Hub is the publish/subscribe fan-out between the orchestrator, the quiz
// service and all connected sessions. Publishing is non-blocking: a slow
// or vanished subscriber never stalls the publisher.
type Hub struct {
	mu       sync.RWMutex
	channels map[Channel]map[*Subscriber]bool

	broadcastCh chan message
	remote      RemotePublisher
}

// New creates a Hub.
func New() *Hub {
	return &Hub{
		channels:    make(map[Channel]map[*Subscriber]bool),
		broadcastCh: make(chan message, 1000),
	}
}

// SetRemote attaches a cross-instance publisher. Call before Run.
func (h *Hub) SetRemote(r RemotePublisher) {
	h.remote = r
}

// Run pumps broadcast messages until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("broadcast hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("broadcast hub shutting down")
			return
		case msg := <-h.broadcastCh:
			h.deliver(msg)
		}
	}
}

// Subscribe registers a new subscriber on channel.
func (h *Hub) Subscribe(channel Channel) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.New().String(),
		Channel: channel,
		Send:    make(chan []byte, 256),
	}

	h.mu.Lock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Subscriber]bool)
	}
	h.channels[channel][sub] = true
	count := len(h.channels[channel])
	h.mu.Unlock()

	log.Debug().
		Str("subscriber_id", sub.ID).
		Str("channel", string(channel)).
		Int("subscribers", count).
		Msg("subscriber registered")
	return sub
}

// Unsubscribe removes sub and closes its Send channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if subs, ok := h.channels[sub.Channel]; ok {
		if subs[sub] {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.channels, sub.Channel)
			}
		}
	}
	h.mu.Unlock()

	sub.close()
}

// Publish marshals payload into an event envelope and delivers it to every
// subscriber of channel, and to other instances when a remote publisher is
// attached.
func (h *Hub) Publish(channel Channel, eventType events.Type, payload interface{}) error {
	env, err := events.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	h.enqueue(message{channel: channel, data: data})

	if h.remote != nil {
		if err := h.remote.PublishRemote(channel, data); err != nil {
			log.Error().Err(err).Str("channel", string(channel)).Msg("remote publish failed")
		}
	}
	return nil
}

// Inject delivers an already-marshaled frame that originated on another
// instance. It is never mirrored back out.
func (h *Hub) Inject(channel Channel, data []byte) {
	h.enqueue(message{channel: channel, data: data, remote: true})
}

func (h *Hub) enqueue(msg message) {
	select {
	case h.broadcastCh <- msg:
	default:
		log.Warn().Str("channel", string(msg.channel)).Msg("broadcast channel full, dropping message")
	}
}

func (h *Hub) deliver(msg message) {
	h.mu.RLock()
	subs, ok := h.channels[msg.channel]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Subscriber, 0, len(subs))
	for sub := range subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.Send <- msg.data:
		default:
			log.Warn().
				Str("subscriber_id", sub.ID).
				Str("channel", string(msg.channel)).
				Msg("subscriber send buffer full, dropping subscriber")
			h.Unsubscribe(sub)
		}
	}
}

// SubscriberCount returns the number of subscribers on channel.
func (h *Hub) SubscriberCount(channel Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
