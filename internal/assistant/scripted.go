package assistant

import (
	"context"
	"sync"
)

// Scripted replies from a fixed list in rotation. It stands in for the
// model when no API key is configured and in scenarios.
type Scripted struct {
	mu      sync.Mutex
	replies []string
	next    int
}

// NewScripted creates a drafter cycling through replies. With no replies
// every draft is empty.
func NewScripted(replies ...string) *Scripted {
	return &Scripted{replies: replies}
}

// Draft returns the next scripted reply.
func (s *Scripted) Draft(ctx context.Context, received string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if received == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return "", nil
	}
	r := s.replies[s.next%len(s.replies)]
	s.next++
	return r, nil
}
