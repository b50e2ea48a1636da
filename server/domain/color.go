package domain

import "github.com/cespare/xxhash/v2"

var palette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#42d4f4", "#f032e6", "#9a6324",
	"#469990", "#800000", "#808000", "#000075",
}

// ColorFor picks a display color from (room, user) alone, so a user gets the
// same color back after reconnecting without any allocation table.
func ColorFor(roomID, userID string) string {
	h := xxhash.New()
	_, _ = h.WriteString(roomID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(userID)
	return palette[h.Sum64()%uint64(len(palette))]
}
