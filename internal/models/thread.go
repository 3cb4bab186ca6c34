package models

import "time"

// Thread is a conversation between exactly two participants. The slot
// columns keep their historical role names: user_id holds the primary
// participant and consultant_id the counterparty.
type Thread struct {
	ID             string    `db:"id" json:"id"`
	PrimaryID      string    `db:"user_id" json:"user_id"`
	CounterpartyID string    `db:"consultant_id" json:"consultant_id"`
	LastMessageAt  time.Time `db:"last_message_at" json:"last_message_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (t Thread) HasParticipant(userID string) bool {
	return userID != "" && (t.PrimaryID == userID || t.CounterpartyID == userID)
}

// OtherParticipant returns whichever participant id is not userID.
func (t Thread) OtherParticipant(userID string) string {
	if t.PrimaryID == userID {
		return t.CounterpartyID
	}
	return t.PrimaryID
}

// ChatView is the display record for one thread, derived from threads,
// latest messages and profiles. It is never stored.
type ChatView struct {
	Thread      Thread   `json:"thread"`
	LastMessage *Message `json:"last_message,omitempty"`
	Other       Profile  `json:"other"`
	Online      bool     `json:"online"`
}
