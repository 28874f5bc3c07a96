package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/triviarena/triviarena/internal/quiz/events"
)

func runningHub(t *testing.T) *Hub {
	t.Helper()
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func receiveFrame(t *testing.T, sub *Subscriber) []byte {
	t.Helper()
	select {
	case data := <-sub.Send:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func TestPublishReachesAllChannelSubscribers(t *testing.T) {
	h := runningHub(t)
	channel := Competition(uuid.New())

	sub1 := h.Subscribe(channel)
	sub2 := h.Subscribe(channel)
	other := h.Subscribe(Lobby)

	if err := h.Publish(channel, events.TypeIdle, map[string]string{"message": "hi"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, sub := range []*Subscriber{sub1, sub2} {
		var env events.Envelope
		if err := json.Unmarshal(receiveFrame(t, sub), &env); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if env.Type != events.TypeIdle {
			t.Errorf("frame type = %s, want idle", env.Type)
		}
	}

	select {
	case data := <-other.Send:
		t.Errorf("lobby subscriber received a competition frame: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesSend(t *testing.T) {
	h := runningHub(t)
	sub := h.Subscribe(Lobby)

	h.Unsubscribe(sub)
	// Double unsubscribe is harmless.
	h.Unsubscribe(sub)

	select {
	case _, ok := <-sub.Send:
		if ok {
			t.Error("expected closed Send channel")
		}
	case <-time.After(time.Second):
		t.Error("Send never closed")
	}
	if got := h.SubscriberCount(Lobby); got != 0 {
		t.Errorf("subscriber count = %d, want 0", got)
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := runningHub(t)
	channel := Competition(uuid.New())
	sub := h.Subscribe(channel)

	// Never read from sub; once its buffer fills the hub must drop it
	// rather than stall delivery.
	for i := 0; i < 2*cap(sub.Send); i++ {
		if err := h.Publish(channel, events.TypeIdle, nil); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.SubscriberCount(channel) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("slow subscriber was never dropped")
}

func TestInjectSkipsRemoteMirror(t *testing.T) {
	h := runningHub(t)

	remote := &recordingRemote{}
	h.SetRemote(remote)

	sub := h.Subscribe(Lobby)
	h.Inject(Lobby, []byte(`{"type":"idle"}`))

	if got := receiveFrame(t, sub); string(got) != `{"type":"idle"}` {
		t.Errorf("delivered %s", got)
	}
	if remote.count() != 0 {
		t.Error("injected frame was mirrored back out")
	}

	if err := h.Publish(Lobby, events.TypeIdle, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	receiveFrame(t, sub)
	if remote.count() != 1 {
		t.Errorf("local publish mirrored %d times, want 1", remote.count())
	}
}

type recordingRemote struct {
	frames [][]byte
}

func (r *recordingRemote) PublishRemote(channel Channel, data []byte) error {
	r.frames = append(r.frames, data)
	return nil
}

func (r *recordingRemote) count() int { return len(r.frames) }
