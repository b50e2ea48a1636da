package domain

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"

	"cdr.dev/slog/v3"
)

const ringSize = 256

type member struct {
	participant  Participant
	remote       string
	disconnected bool
	grace        *quartz.Timer
}

func (m *member) stopGrace() {
	if m.grace != nil {
		m.grace.Stop()
		m.grace = nil
	}
}

// delivery is one encoded event and the sessions it goes to. The recipient
// list is fixed when the event is queued, under the room lock.
type delivery struct {
	response   StreamResponse
	recipients []string
	relay      bool
}

// roomImpl owns the participants of one diagram. All mutations of its
// members happen under mu; fan-out happens on its own goroutine in queue
// order, which keeps every sender's events in the order they arrived.
type roomImpl struct {
	mu          sync.Mutex
	id          string
	createdAt   time.Time
	members     map[string]*member
	broadcast   chan delivery
	closed      bool
	unsubscribe func()
	manager     *streamManagerImpl
}

func newRoom(id string, manager *streamManagerImpl, now time.Time) *roomImpl {
	r := &roomImpl{
		id:        id,
		createdAt: now,
		members:   make(map[string]*member),
		broadcast: make(chan delivery, ringSize),
		manager:   manager,
	}
	manager.wg.Add(1)
	go r.fanout()
	return r
}

func (r *roomImpl) fanout() {
	defer r.manager.wg.Done()
	for d := range r.broadcast {
		for _, sessionID := range d.recipients {
			r.manager.deliver(sessionID, d.response)
		}
		if d.relay {
			r.manager.relayOut(r.id, d.response)
		}
	}
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// recipientsLocked returns the connected members other than exclude.
func (r *roomImpl) recipientsLocked(exclude string) []string {
	recipients := make([]string, 0, len(r.members))
	for id, m := range r.members {
		if id == exclude || m.disconnected {
			continue
		}
		recipients = append(recipients, id)
	}
	return recipients
}

// enqueueLocked broadcasts event to the room, skipping its sender.
func (r *roomImpl) enqueueLocked(event StreamEvent) {
	r.enqueueToLocked(event, r.recipientsLocked(event.SenderID), true)
}

func (r *roomImpl) enqueueToLocked(event StreamEvent, recipients []string, relay bool) {
	if r.closed {
		return
	}
	relay = relay && r.manager.relay != nil
	if len(recipients) == 0 && !relay {
		return
	}
	response, err := NewStreamResponse(event)
	if err != nil {
		r.manager.logger.Error(context.Background(), "encode event",
			slog.F("room_id", r.id), slog.F("event", event.Type.String()), slog.Error(err))
		return
	}
	r.manager.metrics.Broadcast(event.Type.String())
	r.manager.totalEvents.Add(1)
	r.broadcast <- delivery{response: response, recipients: recipients, relay: relay}
}

// touchLocked records activity and brings an away participant back online.
func (r *roomImpl) touchLocked(m *member, now time.Time) {
	m.participant.LastActivity = now
	if next, changed := Transition(m.participant.Status, TriggerActivity); changed {
		m.participant.Status = next
		r.manager.metrics.PresenceTransition(string(next))
		r.enqueueLocked(NewPresenceChangedEvent(m.participant, now))
	}
}

// snapshotLocked returns copies of the connected participants other than
// exclude, oldest first.
func (r *roomImpl) snapshotLocked(exclude string) []Participant {
	participants := make([]Participant, 0, len(r.members))
	for id, m := range r.members {
		if id == exclude || m.disconnected {
			continue
		}
		participants = append(participants, m.participant.Clone())
	}
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].ConnectionID < participants[j].ConnectionID
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
	return participants
}

type relayMessage struct {
	Origin  string          `json:"origin"`
	Event   StreamEventType `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// receiveRelayed queues an event published by another instance for the
// local members. It never blocks; a full queue drops the event.
func (r *roomImpl) receiveRelayed(msg relayMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	recipients := r.recipientsLocked("")
	if len(recipients) == 0 {
		return
	}
	d := delivery{
		response:   StreamResponse{Event: msg.Event, Payload: msg.Payload},
		recipients: recipients,
	}
	select {
	case r.broadcast <- d:
	default:
		r.manager.metrics.Dropped()
	}
}
