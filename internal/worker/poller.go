package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erpwa/outbound-worker/internal/cache"
	"github.com/erpwa/outbound-worker/internal/model"
	"github.com/erpwa/outbound-worker/internal/repo"
	"github.com/erpwa/outbound-worker/internal/secret"
)

var ErrAlreadyRunning = errors.New("worker already running")

// SendClient performs exactly one provider call per invocation. Retry
// policy lives in the Poller.
type SendClient interface {
	SendImage(ctx context.Context, phoneNumberID, accessToken, to, imageURL, caption string) (remoteMessageID string, err error)
}

// Config holds the poller tunables. MaxRetries is the retry budget: a
// message whose retry count reaches it settles as failed.
type Config struct {
	Kind           model.MessageType
	MaxRetries     int
	IdleSleep      time.Duration
	SendDelay      time.Duration
	FailureBackoff time.Duration
}

// Poller drives messages from queued to a terminal state, one at a
// time. Per-message failures are absorbed into row state; only store
// faults stop the loop.
type Poller struct {
	store   repo.MessageStore
	client  SendClient
	creds   secret.Resolver
	cfg     Config
	sleeper Sleeper
	now     func() time.Time

	// receipts is optional; a nil cache disables receipt recording.
	receipts cache.ReceiptCache

	fatalCh chan error

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type PollerOption func(*Poller)

func WithSleeper(s Sleeper) PollerOption {
	return func(p *Poller) {
		if s != nil {
			p.sleeper = s
		}
	}
}

func WithReceiptCache(c cache.ReceiptCache) PollerOption {
	return func(p *Poller) {
		p.receipts = c
	}
}

func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

func New(store repo.MessageStore, client SendClient, creds secret.Resolver, cfg Config, opts ...PollerOption) (*Poller, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if creds == nil {
		return nil, errors.New("creds must not be nil")
	}
	if cfg.Kind == "" {
		return nil, errors.New("kind must not be empty")
	}
	if cfg.MaxRetries <= 0 {
		return nil, errors.New("max retries must be > 0")
	}
	if cfg.IdleSleep <= 0 {
		return nil, errors.New("idle sleep must be > 0")
	}

	p := &Poller{
		store:   store,
		client:  client,
		creds:   creds,
		cfg:     cfg,
		sleeper: realSleeper{},
		now:     time.Now,
		fatalCh: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run polls until ctx is canceled or the store faults. Store faults
// are returned (and surfaced on Fatal) so the process can exit
// non-zero and be restarted by its supervisor.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running.Load() {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.running.Store(true)
	p.mu.Unlock()

	defer func() {
		p.running.Store(false)
		close(done)
		cancel()
	}()

	return p.loop(runCtx)
}

// Start launches Run on a background goroutine. Returns false if the
// worker is already running.
func (p *Poller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return false
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.running.Store(true)

	go func() {
		defer func() {
			p.running.Store(false)
			close(done)
			cancel()
		}()

		if err := p.loop(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker exited", "error", err)
		}
	}()

	return true
}

// Stop cancels the current run and waits for the loop to finish the
// in-flight iteration. Returns false if the worker is not running.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return false
	}

	p.cancel()
	<-p.done

	slog.Info("worker stopped")
	return true
}

func (p *Poller) IsRunning() bool {
	return p.running.Load()
}

// Fatal delivers the store fault that stopped the loop, if any.
func (p *Poller) Fatal() <-chan error {
	return p.fatalCh
}

func (p *Poller) loop(ctx context.Context) error {
	slog.Info("image worker running",
		"kind", string(p.cfg.Kind),
		"maxRetries", p.cfg.MaxRetries,
		"idleSleep", p.cfg.IdleSleep.String(),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		delay, err := p.ProcessOne(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			select {
			case p.fatalCh <- err:
			default:
			}
			return err
		}

		p.sleeper.Sleep(ctx, delay)
	}
}

// ProcessOne claims and attempts at most one message. It returns the
// delay the loop should observe before the next scan, and an error
// only on store faults, which are fatal to the loop.
func (p *Poller) ProcessOne(ctx context.Context) (time.Duration, error) {
	msg, err := p.store.ClaimNext(ctx, p.cfg.Kind, p.cfg.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("claim next message: %w", err)
	}
	if msg == nil {
		return p.cfg.IdleSleep, nil
	}

	// Outcomes are recorded on a context that survives cancellation: a
	// claimed row must always leave processing, even when Stop fires
	// mid-attempt.
	recordCtx := context.WithoutCancel(ctx)

	outcome, err := p.attempt(ctx, msg)
	if err != nil {
		if ctx.Err() != nil {
			if rqErr := p.store.Requeue(recordCtx, msg.ID); rqErr != nil {
				return 0, fmt.Errorf("requeue %s: %w", msg.ID, rqErr)
			}
		}
		return 0, err
	}

	if outcome.Kind == OutcomeRetryable && ctx.Err() != nil {
		// The attempt was aborted by shutdown, not refused by the
		// provider; give the row back without consuming retry budget.
		if err := p.store.Requeue(recordCtx, msg.ID); err != nil {
			return 0, fmt.Errorf("requeue %s: %w", msg.ID, err)
		}
		slog.Info("requeued message on shutdown", "id", msg.ID)
		return 0, nil
	}

	switch outcome.Kind {
	case OutcomeSent:
		if err := p.store.MarkSent(recordCtx, msg.ID, outcome.RemoteMessageID); err != nil {
			return 0, fmt.Errorf("mark sent %s: %w", msg.ID, err)
		}
		p.recordReceipt(recordCtx, msg.ID, outcome.RemoteMessageID)
		slog.Info("sent image message", "id", msg.ID, "remoteMessageId", outcome.RemoteMessageID)
		return p.cfg.SendDelay, nil

	case OutcomePermanent:
		if err := p.store.MarkFailed(recordCtx, msg.ID, outcome.Reason); err != nil {
			return 0, fmt.Errorf("mark failed %s: %w", msg.ID, err)
		}
		slog.Error("message failed permanently", "id", msg.ID, "reason", outcome.Reason)
		return p.cfg.FailureBackoff, nil

	default:
		retries := msg.RetryCount + 1
		if err := p.store.MarkRetryOrFailed(recordCtx, msg.ID, retries, p.cfg.MaxRetries, outcome.Reason); err != nil {
			return 0, fmt.Errorf("mark retry %s: %w", msg.ID, err)
		}
		slog.Error("send failed",
			"id", msg.ID,
			"retryCount", retries,
			"maxRetries", p.cfg.MaxRetries,
			"reason", outcome.Reason,
		)
		return p.cfg.FailureBackoff, nil
	}
}

// attempt runs one delivery attempt for a claimed message. The second
// return is non-nil only for store faults; everything else becomes an
// Outcome. Panics from the client are absorbed as retryable failures
// so one bad message cannot take the loop down.
func (p *Poller) attempt(ctx context.Context, msg *model.Message) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("attempt panic recovered", "id", msg.ID, "panic", r)
			outcome = retryableOutcome(fmt.Sprintf("panic: %v", r))
			err = nil
		}
	}()

	att, err := p.store.Attachment(ctx, msg.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load attachment %s: %w", msg.ID, err)
	}
	if att == nil {
		return permanentOutcome("media not found"), nil
	}

	tgt, err := p.store.DeliveryTarget(ctx, msg.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve delivery target %s: %w", msg.ID, err)
	}
	if tgt == nil {
		return permanentOutcome("delivery target not found"), nil
	}
	if tgt.SessionExpiresAt != nil && !tgt.SessionExpiresAt.After(p.now()) {
		return permanentOutcome("whatsapp session expired"), nil
	}

	token, err := p.creds.Resolve(ctx, tgt.AccessToken)
	if err != nil {
		return permanentOutcome(fmt.Sprintf("resolve access token: %v", err)), nil
	}

	remoteID, err := p.client.SendImage(ctx, tgt.PhoneNumberID, token, tgt.RecipientPhone, att.MediaURL, att.Caption)
	if err != nil {
		return retryableOutcome(err.Error()), nil
	}

	return sentOutcome(remoteID), nil
}

func (p *Poller) recordReceipt(ctx context.Context, messageID, remoteMessageID string) {
	if p.receipts == nil {
		return
	}
	if err := p.receipts.StoreReceipt(ctx, messageID, remoteMessageID, p.now()); err != nil {
		slog.Warn("failed to cache receipt", "id", messageID, "error", err)
	}
}
