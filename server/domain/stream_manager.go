package domain

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/ponyo877/collab/server/metrics"
	"github.com/ponyo877/collab/server/pubsub"
)

type sessionEntry struct {
	session StreamSession
	roomID  string
}

type streamManagerImpl struct {
	logger     slog.Logger
	clock      quartz.Clock
	cfg        Config
	auditor    Auditor
	metrics    *metrics.Metrics
	relay      pubsub.Pubsub
	instanceID string

	// mu guards rooms, sessions and closed. When both are held, mu is taken
	// before a room's mu.
	mu       sync.RWMutex
	rooms    map[string]*roomImpl
	sessions map[string]sessionEntry
	closed   bool

	sinksMu sync.RWMutex
	sinks   map[string]chan<- StreamResponse

	totalEvents atomic.Int64
	startTime   time.Time
	wg          sync.WaitGroup
}

type Option func(*streamManagerImpl)

// WithRelay republishes room broadcasts on ps and delivers events published
// by other instances to local members. instanceID tells our own messages
// apart from those of other instances.
func WithRelay(ps pubsub.Pubsub, instanceID string) Option {
	return func(sm *streamManagerImpl) {
		sm.relay = ps
		sm.instanceID = instanceID
	}
}

func WithAuditor(a Auditor) Option {
	return func(sm *streamManagerImpl) {
		if a != nil {
			sm.auditor = a
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(sm *streamManagerImpl) {
		sm.metrics = m
	}
}

func NewStreamManager(logger slog.Logger, clock quartz.Clock, cfg Config, opts ...Option) StreamManager {
	sm := &streamManagerImpl{
		logger:    logger.Named("stream_manager"),
		clock:     clock,
		cfg:       cfg,
		auditor:   nopAuditor{},
		rooms:     make(map[string]*roomImpl),
		sessions:  make(map[string]sessionEntry),
		sinks:     make(map[string]chan<- StreamResponse),
		startTime: clock.Now(),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

func (sm *streamManagerImpl) getOrCreateRoom(roomID string) (*roomImpl, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return nil, ErrClosed
	}
	if r, ok := sm.rooms[roomID]; ok {
		return r, nil
	}

	r := newRoom(roomID, sm, sm.clock.Now())
	if sm.relay != nil {
		cancel, err := sm.relay.Subscribe(pubsub.RoomEvent(roomID), sm.relayListener(r))
		if err != nil {
			sm.logger.Warn(context.Background(), "subscribe room relay, room stays local",
				slog.F("room_id", roomID), slog.Error(err))
		} else {
			r.unsubscribe = cancel
		}
	}
	sm.rooms[roomID] = r
	sm.metrics.RoomOpened()
	sm.logger.Debug(context.Background(), "room opened", slog.F("room_id", roomID))
	return r, nil
}

func (sm *streamManagerImpl) Join(session StreamSession, request StreamRequest) (JoinResult, error) {
	if !session.IsValid() {
		return JoinResult{}, xerrors.Errorf("join: %w", ErrSessionNotFound)
	}
	if request.Type != RequestJoin {
		return JoinResult{}, xerrors.Errorf("join with %s request: %w", request.Type, ErrMalformedRequest)
	}
	if err := request.Validate(); err != nil {
		return JoinResult{}, err
	}

	if current, ok := sm.RoomOf(session.ID); ok && current != request.RoomID {
		if err := sm.Leave(session.ID); err != nil && !xerrors.Is(err, ErrNotJoined) {
			return JoinResult{}, xerrors.Errorf("leave %s: %w", current, err)
		}
	}

	for {
		r, err := sm.getOrCreateRoom(request.RoomID)
		if err != nil {
			return JoinResult{}, err
		}
		result, ok := sm.joinRoom(r, session, request)
		if !ok {
			// The room emptied and closed between lookup and lock.
			continue
		}

		sm.mu.Lock()
		sm.sessions[session.ID] = sessionEntry{session: session, roomID: request.RoomID}
		sm.mu.Unlock()

		sm.logger.Debug(context.Background(), "participant joined",
			slog.F("room_id", request.RoomID),
			slog.F("session_id", session.ID),
			slog.F("user_id", request.UserID),
			slog.F("reconnected", result.Reconnected))
		return result, nil
	}
}

func (sm *streamManagerImpl) joinRoom(r *roomImpl, session StreamSession, request StreamRequest) (JoinResult, bool) {
	now := sm.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return JoinResult{}, false
	}

	reconnected := false
	for id, m := range r.members {
		if id == session.ID || !m.disconnected || m.participant.UserID != request.UserID {
			continue
		}
		sm.dropLocked(r, id, m, now, AuditLeave)
		reconnected = true
	}

	m, exists := r.members[session.ID]
	if exists {
		changed := m.participant.DisplayName != request.DisplayName || m.participant.Role != request.Role
		m.participant.DisplayName = request.DisplayName
		m.participant.Role = request.Role
		r.touchLocked(m, now)
		if changed {
			r.enqueueLocked(NewParticipantJoinedEvent(m.participant.Clone(), now))
		}
	} else {
		m = &member{
			participant: NewParticipant(session.ID, r.id, request.UserID, request.DisplayName, request.Role, now),
			remote:      session.Remote,
		}
		r.members[session.ID] = m
		sm.metrics.ParticipantAdded()
		r.enqueueLocked(NewParticipantJoinedEvent(m.participant.Clone(), now))
		sm.auditor.Audit(NewAuditEvent(m.participant, AuditJoin, m.remote, now))
	}

	self := m.participant.Clone()
	others := r.snapshotLocked(session.ID)
	r.enqueueToLocked(NewRoomSnapshotEvent(self, others, now), []string{session.ID}, false)

	return JoinResult{
		Color:        self.Color,
		Self:         self,
		Participants: others,
		Reconnected:  reconnected,
	}, true
}

func (sm *streamManagerImpl) Leave(sessionID string) error {
	sm.mu.Lock()
	entry, ok := sm.sessions[sessionID]
	if ok {
		delete(sm.sessions, sessionID)
	}
	r := sm.rooms[entry.roomID]
	sm.mu.Unlock()

	if !ok {
		return xerrors.Errorf("leave %s: %w", sessionID, ErrNotJoined)
	}
	if r != nil {
		sm.removeMember(r, sessionID, nil, AuditLeave)
	}
	return nil
}

func (sm *streamManagerImpl) Disconnect(sessionID string) {
	sm.mu.Lock()
	entry, ok := sm.sessions[sessionID]
	if ok {
		delete(sm.sessions, sessionID)
	}
	r := sm.rooms[entry.roomID]
	sm.mu.Unlock()
	if !ok || r == nil {
		return
	}

	r.mu.Lock()
	m, ok := r.members[sessionID]
	if !ok || m.disconnected {
		r.mu.Unlock()
		return
	}
	if sm.cfg.GracePeriod <= 0 {
		r.mu.Unlock()
		sm.removeMember(r, sessionID, m, AuditExpire)
		return
	}
	m.disconnected = true
	m.grace = sm.clock.AfterFunc(sm.cfg.GracePeriod, func() {
		sm.removeMember(r, sessionID, m, AuditExpire)
	}, "grace")
	r.mu.Unlock()

	sm.logger.Debug(context.Background(), "participant disconnected",
		slog.F("room_id", r.id), slog.F("session_id", sessionID), slog.F("grace", sm.cfg.GracePeriod))
}

// removeMember drops sessionID from r and tells the rest of the room. When
// expect is set, the member is only removed if it is still that record.
func (sm *streamManagerImpl) removeMember(r *roomImpl, sessionID string, expect *member, action AuditAction) bool {
	now := sm.clock.Now()

	r.mu.Lock()
	m, ok := r.members[sessionID]
	if !ok || (expect != nil && m != expect) {
		r.mu.Unlock()
		return false
	}
	sm.dropLocked(r, sessionID, m, now, action)
	empty := len(r.members) == 0
	r.mu.Unlock()

	sm.logger.Debug(context.Background(), "participant left",
		slog.F("room_id", r.id), slog.F("session_id", sessionID), slog.F("action", string(action)))

	if empty {
		sm.evictIfEmpty(r)
	}
	return true
}

// dropLocked deletes m from r and tells the room it went offline and left.
// r.mu must be held.
func (sm *streamManagerImpl) dropLocked(r *roomImpl, sessionID string, m *member, now time.Time, action AuditAction) {
	m.stopGrace()
	delete(r.members, sessionID)
	sm.metrics.ParticipantRemoved()

	m.participant.Status, _ = Transition(m.participant.Status, TriggerDisconnect)
	sm.metrics.PresenceTransition(string(m.participant.Status))
	r.enqueueLocked(NewPresenceChangedEvent(m.participant, now))
	r.enqueueLocked(NewParticipantLeftEvent(m.participant, now))
	sm.auditor.Audit(NewAuditEvent(m.participant, action, m.remote, now))
}

func (sm *streamManagerImpl) evictIfEmpty(r *roomImpl) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 || r.closed {
		return
	}
	r.closed = true
	close(r.broadcast)
	if sm.rooms[r.id] == r {
		delete(sm.rooms, r.id)
		sm.metrics.RoomClosed()
	}
	sm.logger.Debug(context.Background(), "room closed", slog.F("room_id", r.id))
}

// withMember runs fn under the lock of the room sessionID is connected to.
func (sm *streamManagerImpl) withMember(sessionID string, fn func(r *roomImpl, m *member, now time.Time) error) error {
	sm.mu.RLock()
	entry, ok := sm.sessions[sessionID]
	r := sm.rooms[entry.roomID]
	sm.mu.RUnlock()
	if !ok || r == nil {
		return xerrors.Errorf("session %s: %w", sessionID, ErrNotJoined)
	}

	now := sm.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[sessionID]
	if r.closed || !ok || m.disconnected {
		return xerrors.Errorf("session %s: %w", sessionID, ErrNotJoined)
	}
	return fn(r, m, now)
}

func (sm *streamManagerImpl) Heartbeat(sessionID string, clientMillis int64) (HeartbeatResult, error) {
	var result HeartbeatResult
	err := sm.withMember(sessionID, func(r *roomImpl, m *member, now time.Time) error {
		latency := LatencySince(clientMillis, now)
		tier := ClassifyLatency(latency)
		p := &m.participant
		result = HeartbeatResult{LatencyMS: latency, Quality: tier, Changed: tier != p.Quality}

		p.LatencyMS = latency
		p.LastHeartbeat = now
		p.Quality = tier
		r.touchLocked(m, now)
		if result.Changed {
			sm.metrics.QualityChanged(string(tier))
			r.enqueueLocked(NewQualityChangedEvent(*p, now))
		}
		r.enqueueToLocked(NewHeartbeatAckEvent(*p, now), []string{sessionID}, false)
		return nil
	})
	return result, err
}

func (sm *streamManagerImpl) MoveCursor(sessionID string, x, y float64) error {
	return sm.withMember(sessionID, func(r *roomImpl, m *member, now time.Time) error {
		m.participant.Cursor = &Cursor{X: x, Y: y}
		r.touchLocked(m, now)
		r.enqueueLocked(NewUpdateEvent(m.participant, NewCursorDelta(x, y), now))
		return nil
	})
}

func (sm *streamManagerImpl) PublishUpdate(roomID, sessionID string, payload []byte) error {
	delta, err := ValidatePayload(payload, sm.cfg.MaxPayloadBytes)
	if err != nil {
		return err
	}
	return sm.withMember(sessionID, func(r *roomImpl, m *member, now time.Time) error {
		if roomID != "" && roomID != r.id {
			return xerrors.Errorf("publish to %s from %s: %w", roomID, r.id, ErrNotJoined)
		}
		if delta.Content() && !m.participant.Role.CanEdit() {
			return xerrors.Errorf("%s delta from viewer: %w", delta.Type, ErrForbidden)
		}

		switch delta.Type {
		case PayloadTypeCursor:
			m.participant.Cursor = &Cursor{X: delta.Get("x").Float(), Y: delta.Get("y").Float()}
		case PayloadTypeTyping:
			m.participant.Typing = delta.Get("is_typing").Bool()
		}
		r.touchLocked(m, now)
		sm.metrics.PayloadSize(len(delta.Raw))
		r.enqueueLocked(NewUpdateEvent(m.participant, delta, now))
		return nil
	})
}

func (sm *streamManagerImpl) ElementEdit(sessionID string, elementID *string) error {
	return sm.withMember(sessionID, func(r *roomImpl, m *member, now time.Time) error {
		if !m.participant.Role.CanEdit() {
			return xerrors.Errorf("element edit from viewer: %w", ErrForbidden)
		}
		if elementID != nil {
			id := *elementID
			m.participant.ActiveElement = &id
		} else {
			m.participant.ActiveElement = nil
		}
		r.touchLocked(m, now)
		r.enqueueLocked(NewElementActiveEvent(m.participant, now))
		return nil
	})
}

func (sm *streamManagerImpl) Typing(sessionID string, isTyping bool) error {
	return sm.withMember(sessionID, func(r *roomImpl, m *member, now time.Time) error {
		m.participant.Typing = isTyping
		r.touchLocked(m, now)
		r.enqueueLocked(NewTypingUpdateEvent(m.participant, now))
		return nil
	})
}

func (sm *streamManagerImpl) SweepIdle() int {
	now := sm.clock.Now()
	moved := 0
	for _, r := range sm.roomList() {
		r.mu.Lock()
		for _, m := range r.members {
			if m.disconnected || !IsIdle(m.participant.LastActivity, now, sm.cfg.IdleThreshold) {
				continue
			}
			next, changed := Transition(m.participant.Status, TriggerIdle)
			if !changed {
				continue
			}
			m.participant.Status = next
			sm.metrics.PresenceTransition(string(next))
			r.enqueueLocked(NewPresenceChangedEvent(m.participant, now))
			moved++
		}
		r.mu.Unlock()
	}
	return moved
}

func (sm *streamManagerImpl) roomList() []*roomImpl {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	rooms := make([]*roomImpl, 0, len(sm.rooms))
	for _, r := range sm.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

func (sm *streamManagerImpl) Participants(roomID string) []Participant {
	sm.mu.RLock()
	r, ok := sm.rooms[roomID]
	sm.mu.RUnlock()
	if !ok {
		return []Participant{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked("")
}

func (sm *streamManagerImpl) RoomOf(sessionID string) (string, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	entry, ok := sm.sessions[sessionID]
	return entry.roomID, ok
}

func (sm *streamManagerImpl) Rooms() []RoomSummary {
	rooms := sm.roomList()
	summaries := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		summaries = append(summaries, RoomSummary{
			RoomID:       r.id,
			Participants: len(r.recipientsLocked("")),
			CreatedAt:    r.createdAt,
		})
		r.mu.Unlock()
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].RoomID < summaries[j].RoomID
	})
	return summaries
}

func (sm *streamManagerImpl) RegisterSession(sessionID string, responses chan<- StreamResponse) error {
	if sessionID == "" || responses == nil {
		return xerrors.Errorf("register session %q: %w", sessionID, ErrSessionNotFound)
	}
	sm.sinksMu.Lock()
	defer sm.sinksMu.Unlock()
	sm.sinks[sessionID] = responses
	return nil
}

// UnregisterSession forgets the session's channel. Once it returns nothing
// is sent on the channel anymore, so the caller may close it.
func (sm *streamManagerImpl) UnregisterSession(sessionID string) {
	sm.sinksMu.Lock()
	defer sm.sinksMu.Unlock()
	delete(sm.sinks, sessionID)
}

func (sm *streamManagerImpl) SendToSession(sessionID string, event StreamEvent) error {
	response, err := NewStreamResponse(event)
	if err != nil {
		return xerrors.Errorf("encode %s: %w", event.Type, err)
	}
	if !sm.deliver(sessionID, response) {
		return xerrors.Errorf("send to %s: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}

// deliver hands response to the session without blocking. A slow consumer
// loses the event rather than stalling the room.
func (sm *streamManagerImpl) deliver(sessionID string, response StreamResponse) bool {
	sm.sinksMu.RLock()
	defer sm.sinksMu.RUnlock()
	sink, ok := sm.sinks[sessionID]
	if !ok {
		return false
	}
	select {
	case sink <- response:
		sm.metrics.Delivered()
		return true
	default:
		sm.metrics.Dropped()
		sm.logger.Warn(context.Background(), "session queue full, event dropped",
			slog.F("session_id", sessionID), slog.F("event", response.Event.String()))
		return false
	}
}

func (sm *streamManagerImpl) relayOut(roomID string, response StreamResponse) {
	if sm.relay == nil {
		return
	}
	message, err := json.Marshal(relayMessage{
		Origin:  sm.instanceID,
		Event:   response.Event,
		Payload: response.Payload,
	})
	if err != nil {
		sm.logger.Error(context.Background(), "encode relay message", slog.Error(err))
		return
	}
	if err := sm.relay.Publish(pubsub.RoomEvent(roomID), message); err != nil {
		sm.logger.Warn(context.Background(), "publish room relay",
			slog.F("room_id", roomID), slog.Error(err))
	}
}

func (sm *streamManagerImpl) relayListener(r *roomImpl) pubsub.Listener {
	return func(ctx context.Context, message []byte) {
		var msg relayMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			sm.logger.Warn(ctx, "malformed relay message", slog.F("room_id", r.id), slog.Error(err))
			return
		}
		if msg.Origin == sm.instanceID {
			return
		}
		r.receiveRelayed(msg)
	}
}

func (sm *streamManagerImpl) Stats() StreamStats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return StreamStats{
		ActiveRooms:    len(sm.rooms),
		ActiveSessions: len(sm.sessions),
		TotalEvents:    sm.totalEvents.Load(),
		Uptime:         sm.clock.Since(sm.startTime).String(),
	}
}

// Close stops every room and waits for queued events to be delivered.
func (sm *streamManagerImpl) Close() error {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return nil
	}
	sm.closed = true
	rooms := sm.rooms
	sm.rooms = make(map[string]*roomImpl)
	sm.sessions = make(map[string]sessionEntry)
	for _, r := range rooms {
		r.mu.Lock()
		for _, m := range r.members {
			m.stopGrace()
		}
		if !r.closed {
			r.closed = true
			close(r.broadcast)
		}
		r.mu.Unlock()
	}
	sm.mu.Unlock()

	sm.wg.Wait()
	return nil
}
