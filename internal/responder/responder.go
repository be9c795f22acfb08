// Package responder drives the assistant user's side of its direct
// conversations: it watches for messages from the human, drafts a reply and
// posts it after a typing delay.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/docstore"
	"github.com/roach88/chatsync/internal/metrics"
)

// Drafter produces a reply to the last message received.
type Drafter interface {
	Draft(ctx context.Context, received string) (string, error)
}

// DrafterFunc adapts a function to Drafter.
type DrafterFunc func(ctx context.Context, received string) (string, error)

// Draft calls f.
func (f DrafterFunc) Draft(ctx context.Context, received string) (string, error) {
	return f(ctx, received)
}

// AttachmentPlaceholder stands in for the text of media-only messages.
const AttachmentPlaceholder = "[User sent an attachment]"

// ErrAttached is returned by Attach on a responder that is already attached.
var ErrAttached = errors.New("responder: already attached")

// Config tunes reply pacing.
type Config struct {
	// InitialDelay elapses before composing starts.
	InitialDelay time.Duration
	// PerChar is the simulated typing time per reply character, clamped
	// to [MinTyping, MaxTyping].
	PerChar   time.Duration
	MinTyping time.Duration
	MaxTyping time.Duration
	// Limiter throttles draft requests. Nil disables throttling.
	Limiter *rate.Limiter
}

// DefaultConfig returns the standard pacing.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 600 * time.Millisecond,
		PerChar:      30 * time.Millisecond,
		MinTyping:    1500 * time.Millisecond,
		MaxTyping:    4 * time.Second,
		Limiter:      rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// TypingDelay returns how long composing lasts for reply.
func (c Config) TypingDelay(reply string) time.Duration {
	d := time.Duration(len(reply)) * c.PerChar
	if d < c.MinTyping {
		d = c.MinTyping
	}
	if d > c.MaxTyping {
		d = c.MaxTyping
	}
	return d
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Responder replies as the assistant in one human's assistant conversation.
type Responder struct {
	svc     *chat.Service
	human   string
	drafter Drafter
	cfg     Config
	sleep   Sleeper
	logger  *slog.Logger
	metrics *metrics.Metrics

	onComposing func(bool)

	mu        sync.Mutex
	conv      string
	sub       *docstore.Subscription
	cancel    context.CancelFunc
	gen       uint64
	processed map[string]struct{}
	composing bool
	wg        sync.WaitGroup
}

// Option configures a Responder.
type Option func(*Responder)

// WithConfig replaces the pacing configuration.
func WithConfig(cfg Config) Option {
	return func(r *Responder) { r.cfg = cfg }
}

// WithSleeper replaces the delay function.
func WithSleeper(s Sleeper) Option {
	return func(r *Responder) {
		if s != nil {
			r.sleep = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Responder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records reply outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Responder) { r.metrics = m }
}

// OnComposing registers a callback invoked when composing starts or stops.
func OnComposing(fn func(composing bool)) Option {
	return func(r *Responder) { r.onComposing = fn }
}

// New creates a responder for human's conversation with the service's
// assistant.
func New(svc *chat.Service, human string, drafter Drafter, opts ...Option) *Responder {
	r := &Responder{
		svc:       svc,
		human:     human,
		drafter:   drafter,
		cfg:       DefaultConfig(),
		sleep:     sleep,
		logger:    svc.Logger(),
		metrics:   svc.Metrics(),
		processed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "responder", "user", human)
	return r
}

// ConversationID returns the watched conversation, "" before Attach.
func (r *Responder) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv
}

// Composing reports whether a reply is being typed.
func (r *Responder) Composing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.composing
}

// Attach ensures the assistant conversation exists and starts watching it.
// The last message is answered if it came from the human and has not been
// answered by this responder before.
func (r *Responder) Attach(ctx context.Context) error {
	r.mu.Lock()
	if r.sub != nil {
		r.mu.Unlock()
		return ErrAttached
	}
	r.mu.Unlock()

	conv, err := r.svc.EnsureAssistant(ctx, r.human)
	if err != nil {
		return fmt.Errorf("ensure assistant conversation: %w", err)
	}
	if conv == "" {
		return fmt.Errorf("attach responder: %s is the assistant", r.human)
	}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	runCtx, cancel := context.WithCancel(ctx)
	r.conv = conv
	r.cancel = cancel
	r.mu.Unlock()

	sub, err := r.svc.SubscribeMessages(runCtx, conv, 0, func(msgs []chat.Message) {
		if len(msgs) == 0 {
			return
		}
		r.observe(runCtx, gen, msgs[len(msgs)-1])
	})
	if err != nil {
		cancel()
		return err
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	r.logger.Info("responder attached", "conversation", conv)
	return nil
}

// Detach stops watching, cancels pending replies and waits for them to
// finish. A reply already drafted is discarded.
func (r *Responder) Detach() {
	r.mu.Lock()
	r.gen++
	sub, cancel := r.sub, r.cancel
	r.sub, r.cancel = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Stop()
	}
	r.wg.Wait()
	r.setComposing(false)
}

func (r *Responder) observe(ctx context.Context, gen uint64, last chat.Message) {
	if last.SenderID != r.human {
		return
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	if _, seen := r.processed[last.ID]; seen {
		r.mu.Unlock()
		return
	}
	r.processed[last.ID] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.reply(ctx, gen, last)
	}()
}

func (r *Responder) reply(ctx context.Context, gen uint64, trigger chat.Message) {
	log := r.logger.With("conversation", trigger.ConversationID, "trigger", trigger.ID)

	if err := r.sleep(ctx, r.cfg.InitialDelay); err != nil {
		r.metrics.AssistantReply("cancelled")
		return
	}
	r.setComposing(true)
	defer r.setComposing(false)

	received := trigger.Text
	if received == "" && trigger.Media != nil {
		received = AttachmentPlaceholder
	}
	if received == "" {
		r.metrics.AssistantReply("empty")
		return
	}

	if r.cfg.Limiter != nil {
		if err := r.cfg.Limiter.Wait(ctx); err != nil {
			r.metrics.AssistantReply("cancelled")
			return
		}
	}

	text, err := r.drafter.Draft(ctx, received)
	if err != nil {
		if ctx.Err() != nil {
			r.metrics.AssistantReply("cancelled")
			return
		}
		log.Warn("draft reply", "error", err)
		r.metrics.AssistantReply("failed")
		return
	}
	if text == "" {
		log.Warn("assistant returned an empty reply")
		r.metrics.AssistantReply("empty")
		return
	}

	if err := r.sleep(ctx, r.cfg.TypingDelay(text)); err != nil {
		r.metrics.AssistantReply("cancelled")
		return
	}
	r.setComposing(false)

	if !r.current(gen) {
		r.metrics.AssistantReply("discarded")
		return
	}

	if _, err := r.svc.Send(ctx, chat.SendRequest{
		ConversationID: trigger.ConversationID,
		SenderID:       r.svc.Assistant().ID,
		Text:           text,
	}); err != nil {
		log.Error("send reply", "error", err)
		r.metrics.AssistantReply("failed")
		return
	}
	if _, err := r.svc.MarkAsRead(ctx, trigger.ConversationID, trigger.ID); err != nil {
		log.Warn("mark trigger read", "error", err)
	}
	r.metrics.AssistantReply("sent")
	log.Debug("reply sent", "chars", len(text))
}

func (r *Responder) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.gen
}

func (r *Responder) setComposing(on bool) {
	r.mu.Lock()
	changed := r.composing != on
	r.composing = on
	r.mu.Unlock()
	if changed && r.onComposing != nil {
		r.onComposing(on)
	}
}
