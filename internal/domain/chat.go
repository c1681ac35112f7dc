package domain

import "time"

// DeliveryState tracks a chat message through the router.
type DeliveryState string

const (
	DeliveryQueued DeliveryState = "queued"
	DeliverySent   DeliveryState = "sent"
	DeliveryFailed DeliveryState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s DeliveryState) Terminal() bool {
	return s == DeliverySent || s == DeliveryFailed
}

// ChatMessage is a single direct message. MessageID is assigned by the router
// and strictly increases within the chat channel; Seq is contiguous per
// sender/recipient pair starting at 1 and is what receivers reorder on.
type ChatMessage struct {
	MessageID     uint64        `json:"messageId"`
	Seq           uint64        `json:"seq"`
	SenderID      string        `json:"senderId"`
	RecipientID   string        `json:"recipientId"`
	Body          string        `json:"body"`
	SentAt        time.Time     `json:"sentAt"`
	DeliveryState DeliveryState `json:"deliveryState,omitempty"`
	ClientRef     string        `json:"clientRef,omitempty"`
}

// OrderingViolation flags a range of messages from one sender that may be
// incomplete (a gap that never filled) on the receiving side.
type OrderingViolation struct {
	SenderID string `json:"senderId"`
	FromSeq  uint64 `json:"fromSeq"`
	ToSeq    uint64 `json:"toSeq"`
}

func (v OrderingViolation) Error() string {
	return ErrOrderingViolation.Error()
}

func (v OrderingViolation) Unwrap() error {
	return ErrOrderingViolation
}
