package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/docstore"
	"github.com/roach88/chatsync/internal/metrics"
	"github.com/roach88/chatsync/internal/queue"
)

// ErrStarted is returned by Start on a listener that is already running.
var ErrStarted = errors.New("fanout: listener already started")

// Listener maintains one user's chat list and raises alerts for new
// messages in their conversations.
type Listener struct {
	svc      *chat.Service
	user     string
	notifier Notifier
	view     *ViewState
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	sub     *docstore.Subscription
	workers map[string]*queue.Queue[docstore.Change]
	entries map[string]Entry
	seen    map[string]int64
	wg      sync.WaitGroup

	pubMu   sync.Mutex
	updates chan []Entry
}

// Option configures a Listener.
type Option func(*Listener)

// WithRecencyWindow sets how recent a message must be to alert.
func WithRecencyWindow(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithClock sets the time source used for recency checks.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Listener) {
		if log != nil {
			l.logger = log
		}
	}
}

// WithMetrics records alert and chat list metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// WithViewState shares a view state with the caller.
func WithViewState(v *ViewState) Option {
	return func(l *Listener) {
		if v != nil {
			l.view = v
		}
	}
}

// New creates a listener for user. Alerts go to notifier, which may be nil
// to only maintain the chat list.
func New(svc *chat.Service, user string, notifier Notifier, opts ...Option) *Listener {
	l := &Listener{
		svc:      svc,
		user:     user,
		notifier: notifier,
		view:     NewViewState(),
		window:   DefaultRecencyWindow,
		now:      time.Now,
		logger:   svc.Logger(),
		metrics:  svc.Metrics(),
		workers:  make(map[string]*queue.Queue[docstore.Change]),
		entries:  make(map[string]Entry),
		seen:     make(map[string]int64),
		updates:  make(chan []Entry, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "fanout", "user", user)
	return l
}

// View returns the listener's view state.
func (l *Listener) View() *ViewState {
	return l.view
}

// Start subscribes to the user's conversations. Changes are processed on
// per-conversation goroutines until ctx is cancelled or Stop is called.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrStarted
	}
	l.started = true
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	sub, err := l.svc.Store().Subscribe(ctx, chat.ParticipantQuery(l.user), func(snap docstore.Snapshot) {
		for _, ch := range snap.Changes {
			l.dispatch(ctx, ch)
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe conversations: %w", err)
	}

	l.mu.Lock()
	l.sub = sub
	l.mu.Unlock()
	return nil
}

// Stop cancels the subscription and waits for workers to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	sub := l.sub
	for _, q := range l.workers {
		q.Close()
	}
	l.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	l.wg.Wait()
}

// Updates delivers the sorted chat list after each change. Only the latest
// list is retained when the reader falls behind.
func (l *Listener) Updates() <-chan []Entry {
	return l.updates
}

// Entries returns the current sorted chat list.
func (l *Listener) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sortedLocked()
}

func (l *Listener) sortedLocked() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	SortEntries(out)
	return out
}

// dispatch routes a change to its conversation's worker, starting one if
// needed. Changes to one conversation are handled in order.
func (l *Listener) dispatch(ctx context.Context, ch docstore.Change) {
	id := ch.Doc.ID

	l.mu.Lock()
	q, ok := l.workers[id]
	if !ok {
		if ctx.Err() != nil {
			l.mu.Unlock()
			return
		}
		q = queue.New[docstore.Change]()
		l.workers[id] = q
		l.wg.Add(1)
		go l.work(ctx, q)
	}
	q.Enqueue(ch)
	l.mu.Unlock()
}

func (l *Listener) work(ctx context.Context, q *queue.Queue[docstore.Change]) {
	defer l.wg.Done()
	for {
		if ch, ok := q.TryDequeue(); ok {
			l.handle(ctx, ch)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case _, ok := <-q.Wait():
			if !ok && q.Len() == 0 {
				return
			}
		}
	}
}

func (l *Listener) handle(ctx context.Context, ch docstore.Change) {
	id := ch.Doc.ID

	if ch.Type == docstore.ChangeRemoved {
		l.mu.Lock()
		delete(l.entries, id)
		delete(l.seen, id)
		// A worker with changes still queued keeps running; it is
		// retired on a later removal or by Stop.
		if q, ok := l.workers[id]; ok && q.Len() == 0 {
			q.Close()
			delete(l.workers, id)
		}
		l.mu.Unlock()
		l.publish()
		return
	}

	conv, err := chat.ConversationFromDoc(ch.Doc)
	if err != nil {
		l.logger.Warn("decode conversation", "conversation", id, "error", err)
		return
	}

	entry, ok := resolveEntry(ctx, l.svc, l.user, conv, l.logger)
	if !ok {
		return
	}

	l.mu.Lock()
	l.entries[id] = entry
	lastSeen := l.seen[id]
	if conv.LastMessage != nil && conv.LastMessage.Timestamp > lastSeen {
		l.seen[id] = conv.LastMessage.Timestamp
	}
	l.mu.Unlock()
	l.publish()

	d := Decide(DecisionInput{
		Change:       ch.Type,
		Conversation: conv,
		User:         l.user,
		View:         l.view.Snapshot(),
		Now:          l.now(),
		Window:       l.window,
		LastSeen:     lastSeen,
	})
	if !d.Toast {
		if d.Reason != ReasonNotModified {
			l.metrics.AlertSuppressed(string(d.Reason))
			l.logger.Debug("alert suppressed", "conversation", id, "reason", d.Reason)
		}
		return
	}

	if l.notifier == nil {
		return
	}
	alert := Alert{
		ConversationID: id,
		Title:          entry.Partner.Name(),
		Body:           entry.LastMessage.Text,
		SenderID:       conv.LastMessage.SenderID,
		Timestamp:      conv.LastMessage.Timestamp,
		AvatarURL:      entry.Partner.Avatar(),
	}
	l.notifier.Toast(alert)
	l.metrics.Alert("toast")
	if d.Push {
		push := alert
		push.Title = "Message from " + alert.Title
		l.notifier.Push(push)
		l.metrics.Alert("push")
	}
}

// resolveEntry builds user's chat list entry for conv. It reports false
// when the partner of a direct conversation cannot be found.
func resolveEntry(ctx context.Context, svc *chat.Service, user string, conv *chat.Conversation, log *slog.Logger) (Entry, bool) {
	var partner Partner
	if conv.IsGroup {
		name := conv.GroupName
		if name == "" {
			name = DefaultGroupName
		}
		avatar := conv.GroupAvatar
		if avatar == "" {
			avatar = chat.DefaultGroupAvatar(name)
		}
		partner = GroupPartner(GroupSummary{
			ID:            conv.ID,
			Name:          name,
			AvatarURL:     avatar,
			Members:       len(conv.Participants),
			Private:       conv.IsPrivateGroup,
			OnlyAdmins:    conv.OnlyAdminsCanPost,
			ViewerIsAdmin: conv.IsAdmin(user),
		})
	} else {
		other := conv.Partner(user)
		if other == "" {
			log.Warn("direct conversation without partner", "conversation", conv.ID)
			return Entry{}, false
		}
		u, err := svc.User(ctx, other)
		if err != nil {
			if !chat.IsNotFound(err) {
				log.Warn("load partner", "conversation", conv.ID, "partner", other, "error", err)
			}
			return Entry{}, false
		}
		partner = DirectPartner(*u)
	}

	last := chat.LastMessage{Text: DefaultPreview}
	if conv.LastMessage != nil {
		last = *conv.LastMessage
		if last.Text == "" {
			last.Text = DefaultPreview
		}
	}

	unread, err := svc.UnreadCount(ctx, conv.ID, user)
	if err != nil {
		log.Warn("count unread", "conversation", conv.ID, "error", err)
	}

	return Entry{
		ConversationID: conv.ID,
		Partner:        partner,
		LastMessage:    last,
		Unread:         unread,
		Pinned:         conv.Pinned(user),
		Muted:          conv.Muted(user),
		CallMuted:      conv.CallMuted(user),
		General:        conv.InGeneral(user),
	}, true
}

// List builds user's sorted chat list once, without subscribing.
func List(ctx context.Context, svc *chat.Service, user string) ([]Entry, error) {
	convs, err := svc.ConversationsFor(ctx, user)
	if err != nil {
		return nil, err
	}
	log := svc.Logger().With("component", "fanout", "user", user)
	entries := make([]Entry, 0, len(convs))
	for _, c := range convs {
		if e, ok := resolveEntry(ctx, svc, user, c, log); ok {
			entries = append(entries, e)
		}
	}
	SortEntries(entries)
	return entries, nil
}

// publish offers the current list on Updates, replacing any unread list.
func (l *Listener) publish() {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	list := l.sortedLocked()
	l.mu.Unlock()
	l.metrics.ChatListSize(l.user, len(list))

	select {
	case <-l.updates:
	default:
	}
	l.updates <- list
}

// LogNotifier writes alerts to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Toast logs an in-app alert.
func (n LogNotifier) Toast(a Alert) {
	n.logger().Info("toast", "conversation", a.ConversationID, "title", a.Title, "body", a.Body)
}

// Push logs an OS notification.
func (n LogNotifier) Push(a Alert) {
	n.logger().Info("push", "conversation", a.ConversationID, "title", a.Title, "body", a.Body)
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}
