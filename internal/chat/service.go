package chat

import (
	"context"
	"log/slog"

	"github.com/roach88/chatsync/internal/docstore"
	"github.com/roach88/chatsync/internal/media"
	"github.com/roach88/chatsync/internal/metrics"
)

// DocumentStore is the subset of the document store the service uses.
// *docstore.Store satisfies it.
type DocumentStore interface {
	Get(ctx context.Context, path string) (*docstore.Document, error)
	Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error)
	Set(ctx context.Context, path string, data docstore.Data, opts ...docstore.SetOption) error
	Update(ctx context.Context, path string, updates map[string]any) error
	Batch() *docstore.Batch
	RunTransaction(ctx context.Context, fn func(ctx context.Context, t *docstore.Txn) error) error
	Subscribe(ctx context.Context, q docstore.Query, fn func(docstore.Snapshot)) (*docstore.Subscription, error)
}

// Default assistant identity.
const (
	DefaultAssistantID       = "assistant"
	DefaultAssistantName     = "Loopzyy Bot"
	DefaultAssistantHandle   = "@loopzyy_bot"
	DefaultAssistantGreeting = "Hi! I'm Loopzyy Bot. I'm here to help you draft posts, replies, and just vibe! ✨"
)

// DefaultHistoryLimit is the message window of SubscribeMessages.
const DefaultHistoryLimit = 100

// SearchLimit caps SearchPublicGroups before name filtering.
const SearchLimit = 20

// Service implements the conversation operations.
type Service struct {
	store    DocumentStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	uploader media.Uploader
	ids      docstore.IDGenerator

	assistant    User
	greeting     string
	historyLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records operation counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithUploader sets the object storage used by SendMedia.
func WithUploader(u media.Uploader) Option {
	return func(s *Service) { s.uploader = u }
}

// WithIDGenerator sets the generator for group ids.
func WithIDGenerator(g docstore.IDGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithAssistant overrides the assistant user and greeting.
func WithAssistant(u User, greeting string) Option {
	return func(s *Service) {
		if u.ID != "" {
			s.assistant = u
		}
		if greeting != "" {
			s.greeting = greeting
		}
	}
}

// WithHistoryLimit sets the default message window.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// NewService creates a Service over store.
func NewService(store DocumentStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		ids:    docstore.UUIDv7Generator{},
		assistant: User{
			ID:     DefaultAssistantID,
			Name:   DefaultAssistantName,
			Handle: DefaultAssistantHandle,
			IsBot:  true,
		},
		greeting:     DefaultAssistantGreeting,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assistant returns the assistant user.
func (s *Service) Assistant() User {
	return s.assistant
}

// Logger returns the service logger.
func (s *Service) Logger() *slog.Logger {
	return s.logger
}

// Metrics returns the metrics sink, which may be nil.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Store returns the underlying document store.
func (s *Service) Store() DocumentStore {
	return s.store
}

// loadConversation reads a conversation inside a transaction.
func loadConversation(t *docstore.Txn, op, id string) (*Conversation, error) {
	doc, err := t.Get(conversationPath(id))
	if docstore.IsNotFound(err) {
		return nil, notFound(op, "conversation %s does not exist", id)
	}
	if err != nil {
		return nil, fromStore(op, err)
	}
	conv, err := ConversationFromDoc(doc)
	if err != nil {
		return nil, fromStore(op, err)
	}
	return conv, nil
}

// mutate runs fn against a freshly read conversation inside a transaction
// and applies the returned field updates. An empty update writes nothing.
func (s *Service) mutate(ctx context.Context, op, id string, fn func(c *Conversation) (map[string]any, error)) error {
	err := s.store.RunTransaction(ctx, func(ctx context.Context, t *docstore.Txn) error {
		conv, err := loadConversation(t, op, id)
		if err != nil {
			return err
		}
		updates, err := fn(conv)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		t.Update(conversationPath(id), updates)
		return nil
	})
	if err != nil {
		if IsPermissionDenied(err) {
			s.metrics.PermissionDenied(op)
		}
		return fromStore(op, err)
	}
	return nil
}

// Conversation reads one conversation.
func (s *Service) Conversation(ctx context.Context, id string) (*Conversation, error) {
	doc, err := s.store.Get(ctx, conversationPath(id))
	if docstore.IsNotFound(err) {
		return nil, notFound("conversation", "conversation %s does not exist", id)
	}
	if err != nil {
		return nil, fromStore("conversation", err)
	}
	conv, err := ConversationFromDoc(doc)
	if err != nil {
		return nil, fromStore("conversation", err)
	}
	return conv, nil
}

// ConversationsFor lists the conversations user participates in.
func (s *Service) ConversationsFor(ctx context.Context, user string) ([]*Conversation, error) {
	docs, err := s.store.Query(ctx, ParticipantQuery(user))
	if err != nil {
		return nil, fromStore("list conversations", err)
	}
	out := make([]*Conversation, 0, len(docs))
	for _, d := range docs {
		conv, err := ConversationFromDoc(d)
		if err != nil {
			s.logger.Warn("skipping undecodable conversation", "conversation", d.ID, "error", err)
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}

// ParticipantQuery selects the conversations user participates in.
func ParticipantQuery(user string) docstore.Query {
	return docstore.From(CollectionChats).Where("participants", docstore.OpArrayContains, user)
}
