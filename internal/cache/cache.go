package cache

import (
	"context"
	"time"
)

// ReceiptCache records provider message ids for sent messages so the
// UI/API layer can look them up without hitting the message table.
type ReceiptCache interface {
	StoreReceipt(ctx context.Context, messageID, remoteMessageID string, sentAt time.Time) error
}
