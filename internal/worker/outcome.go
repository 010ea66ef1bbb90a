package worker

// OutcomeKind classifies the result of one send attempt. Retryable
// failures consume retry budget; permanent failures settle the message
// as failed immediately.
type OutcomeKind string

const (
	OutcomeSent      OutcomeKind = "sent"
	OutcomeRetryable OutcomeKind = "retryable"
	OutcomePermanent OutcomeKind = "permanent"
)

type Outcome struct {
	Kind OutcomeKind

	// RemoteMessageID is set when Kind is OutcomeSent.
	RemoteMessageID string

	// Reason is the error text persisted on the row for failures.
	Reason string
}

func sentOutcome(remoteMessageID string) Outcome {
	return Outcome{Kind: OutcomeSent, RemoteMessageID: remoteMessageID}
}

func retryableOutcome(reason string) Outcome {
	return Outcome{Kind: OutcomeRetryable, Reason: reason}
}

func permanentOutcome(reason string) Outcome {
	return Outcome{Kind: OutcomePermanent, Reason: reason}
}
