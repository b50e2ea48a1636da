package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/ponyo877/collab/server/domain"
)

// board is the client-side view of a room rebuilt from its event stream.
type board struct {
	self         domain.Participant
	participants map[string]domain.Participant // by connection id
}

func newBoard() *board {
	return &board{participants: map[string]domain.Participant{}}
}

// apply folds one event into the board and returns a log line for it, or
// "" when the event only changes the table.
func (b *board) apply(response domain.DecodedResponse) (string, error) {
	data := response.Data
	switch response.Event {
	case domain.EventRoomSnapshot.String():
		var snapshot domain.RoomSnapshotData
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return "", err
		}
		b.self = snapshot.Self
		b.participants = map[string]domain.Participant{snapshot.Self.ConnectionID: snapshot.Self}
		for _, p := range snapshot.Participants {
			b.participants[p.ConnectionID] = p
		}
		return fmt.Sprintf("joined %s with %d others", snapshot.Self.RoomID, len(snapshot.Participants)), nil
	case domain.EventParticipantJoined.String():
		var joined domain.ParticipantJoinedData
		if err := json.Unmarshal(data, &joined); err != nil {
			return "", err
		}
		b.participants[joined.Participant.ConnectionID] = joined.Participant
		return joined.Participant.DisplayName + " joined", nil
	case domain.EventParticipantLeft.String():
		var left domain.ParticipantLeftData
		if err := json.Unmarshal(data, &left); err != nil {
			return "", err
		}
		delete(b.participants, left.ConnectionID)
		return left.UserID + " left", nil
	case domain.EventPresenceChanged.String():
		var presence domain.PresenceChangedData
		if err := json.Unmarshal(data, &presence); err != nil {
			return "", err
		}
		b.update(presence.UserID, func(p *domain.Participant) { p.Status = presence.Status })
	case domain.EventQualityChanged.String():
		var quality domain.QualityChangedData
		if err := json.Unmarshal(data, &quality); err != nil {
			return "", err
		}
		b.update(quality.UserID, func(p *domain.Participant) {
			p.Quality = quality.Quality
			p.LatencyMS = quality.LatencyMS
		})
	case domain.EventTypingUpdate.String():
		var typing domain.TypingUpdateData
		if err := json.Unmarshal(data, &typing); err != nil {
			return "", err
		}
		b.update(typing.UserID, func(p *domain.Participant) { p.Typing = typing.IsTyping })
	case domain.EventElementActive.String():
		var active domain.ElementActiveData
		if err := json.Unmarshal(data, &active); err != nil {
			return "", err
		}
		b.update(active.UserID, func(p *domain.Participant) { p.ActiveElement = active.ElementID })
	case domain.EventHeartbeatAck.String():
		var ack domain.HeartbeatAckData
		if err := json.Unmarshal(data, &ack); err != nil {
			return "", err
		}
		b.update(b.self.UserID, func(p *domain.Participant) {
			p.Quality = ack.Quality
			p.LatencyMS = ack.LatencyMS
		})
	case domain.EventUpdate.String():
		userID := gjson.GetBytes(data, "user_id").String()
		payload := gjson.GetBytes(data, "payload")
		if payload.Get("type").String() == domain.PayloadTypeCursor {
			x, y := payload.Get("x").Float(), payload.Get("y").Float()
			b.update(userID, func(p *domain.Participant) { p.Cursor = &domain.Cursor{X: x, Y: y} })
			return "", nil
		}
		return userID + " " + payload.Raw, nil
	case domain.EventError.String():
		return "error: " + gjson.GetBytes(data, "message").String(), nil
	}
	return "", nil
}

// update applies fn to every connection of userID.
func (b *board) update(userID string, fn func(p *domain.Participant)) {
	for id, p := range b.participants {
		if p.UserID == userID {
			fn(&p)
			b.participants[id] = p
		}
	}
}

// rows returns the participants in join order.
func (b *board) rows() []domain.Participant {
	rows := make([]domain.Participant, 0, len(b.participants))
	for _, p := range b.participants {
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].JoinedAt.Equal(rows[j].JoinedAt) {
			return rows[i].JoinedAt.Before(rows[j].JoinedAt)
		}
		return rows[i].ConnectionID < rows[j].ConnectionID
	})
	return rows
}
