package domain

import "time"

// NotificationRecord is one row of the append-only notification log.
type NotificationRecord struct {
	ID         int64
	SentAt     time.Time
	Recipient  string
	PaperTitle string
	PaperURL   string
	Summary    string
}

// Message is a single outbound email.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}
