package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"flowdesk/backend/internal/logger"

	"go.uber.org/zap"
)

const EventTaskNew = "task.new"

// Event is the frame pushed to clients.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

func NewEvent(name string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: raw}, nil
}

// Publisher delivers an event to every client in a room. Rooms are keyed by
// user id.
type Publisher interface {
	Publish(ctx context.Context, room string, ev Event) error
}

// Observer is told the outcome of every delivery attempt: "delivered",
// "dropped" (subscriber too slow) or "no_subscribers".
type Observer interface {
	ObserveDelivery(outcome string)
}

// Hub holds the in-process rooms. Membership lives only as long as the
// connection; a reconnecting client simply subscribes again.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[uint64]chan Event
	nextID   uint64
	buffer   int
	log      *logger.Logger
	observer Observer
}

func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		rooms:  make(map[string]map[uint64]chan Event),
		buffer: buffer,
		log:    log.Named("realtime"),
	}
}

func (h *Hub) SetObserver(o Observer) {
	h.observer = o
}

// Subscribe joins room. The returned cancel leaves the room and closes the
// channel; it may be called more than once.
func (h *Hub) Subscribe(room string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[uint64]chan Event)
	}

	h.nextID++
	id := h.nextID
	ch := make(chan Event, h.buffer)
	h.rooms[room][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			if subs, ok := h.rooms[room]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.rooms, room)
				}
			}
			close(ch)
		})
	}

	return ch, cancel
}

// Publish delivers locally. It never blocks.
func (h *Hub) Publish(_ context.Context, room string, ev Event) error {
	h.Deliver(room, ev)
	return nil
}

// Deliver hands ev to each subscriber of room without waiting and returns how
// many received it. A full subscriber buffer drops the event for that
// subscriber only.
func (h *Hub) Deliver(room string, ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.rooms[room]
	if len(subs) == 0 {
		h.observe("no_subscribers")
		return 0
	}

	delivered := 0
	for _, ch := range subs {
		select {
		case ch <- ev:
			delivered++
			h.observe("delivered")
		default:
			h.observe("dropped")
			h.log.Warn("subscriber too slow, event dropped",
				zap.String("room", room),
				zap.String("event", ev.Name),
			)
		}
	}
	return delivered
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) observe(outcome string) {
	if h.observer != nil {
		h.observer.ObserveDelivery(outcome)
	}
}
