package domain

import "time"

// Message is the durable record created for every detected activity event.
// Content may be a placeholder when the platform exposes no message text.
type Message struct {
	ID          string
	Sender      string
	Content     string
	DetectedAt  time.Time
	ProcessedAt time.Time // zero until the message leaves the pending partition
	Role        Role
	Processed   bool
}

// ActivityEvent is the transient "something changed" signal emitted by a
// monitor unit. It is converted 1:1 into exactly one Message and never
// persisted.
type ActivityEvent struct {
	Contact string
	Signal  string
	At      time.Time
}
