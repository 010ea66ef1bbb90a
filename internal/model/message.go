package model

import "time"

type Status string

const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Sent       Status = "sent"
	Failed     Status = "failed"
)

type MessageType string

const (
	TypeImage MessageType = "image"
	TypeText  MessageType = "text"
)

// Message is one outbound unit of work. Rows are created by the
// application layer in Queued state; the worker drives them to Sent or
// Failed and never deletes them.
type Message struct {
	ID              string
	VendorID        string
	ConversationID  string
	Type            MessageType
	Status          Status
	RetryCount      int
	ErrorCode       *string
	RemoteMessageID *string
	SentAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MediaAttachment is read-only to the worker.
type MediaAttachment struct {
	ID        string
	MessageID string
	MediaType string
	MimeType  string
	MediaURL  string
	Caption   string
}

// DeliveryTarget is resolved per attempt from the message's vendor and
// conversation. AccessToken is the stored (possibly encrypted) form; it
// must go through a credential resolver before use.
type DeliveryTarget struct {
	PhoneNumberID    string
	AccessToken      string
	RecipientPhone   string
	SessionExpiresAt *time.Time
}
