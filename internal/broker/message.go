package broker

import "time"

// Message is the envelope carried between workloads (spec §3).
type Message struct {
	ID          string
	Publisher   string
	Timestamp   time.Time
	Tag         string
	ContentType string
	Content     []byte
}
