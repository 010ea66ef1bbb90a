package repo

import (
	"context"

	"github.com/erpwa/outbound-worker/internal/model"
)

// MessageStore is the worker's view of the message table. ClaimNext is
// a single atomic operation: it selects the oldest eligible queued row
// and marks it processing in one transaction, so two worker processes
// can never claim the same message.
type MessageStore interface {
	// ClaimNext returns (nil, nil) when no eligible message exists.
	ClaimNext(ctx context.Context, kind model.MessageType, maxRetries int) (*model.Message, error)

	// Attachment returns the message's first media row, or (nil, nil)
	// when the message has none.
	Attachment(ctx context.Context, messageID string) (*model.MediaAttachment, error)

	// DeliveryTarget resolves the vendor credentials and recipient
	// contact for a message through its conversation.
	DeliveryTarget(ctx context.Context, messageID string) (*model.DeliveryTarget, error)

	// MarkSent settles the message as sent, records the provider
	// message id, clears the error code and flips any delivery-receipt
	// rows to sent.
	MarkSent(ctx context.Context, id string, remoteMessageID string) error

	// MarkRetryOrFailed records a retryable failure: the row returns to
	// queued while newRetryCount < maxRetries, otherwise it settles as
	// failed. The error text is recorded in both cases.
	MarkRetryOrFailed(ctx context.Context, id string, newRetryCount, maxRetries int, errText string) error

	// MarkFailed settles the message as failed without touching the
	// retry count (permanent, non-retryable failures).
	MarkFailed(ctx context.Context, id string, errText string) error

	// Requeue releases a claimed row back to queued without touching
	// the retry count or error code. Used when an attempt is aborted by
	// shutdown rather than by a delivery failure.
	Requeue(ctx context.Context, id string) error

	ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.Message, error)
}
