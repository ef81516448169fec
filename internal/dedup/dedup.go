package dedup

import "github.com/rickgao/fleetsync/internal/model"

// ShouldAppend reports whether candidate is new to the transcript.
// It returns false iff an existing entry has identical text and timestamp.
func ShouldAppend(candidate model.ChatMessage, existing []model.ChatMessage) bool {
	for _, msg := range existing {
		if sameMessage(candidate, msg) {
			return false
		}
	}
	return true
}

func sameMessage(a, b model.ChatMessage) bool {
	return a.Text == b.Text && a.Timestamp.Equal(b.Timestamp)
}
