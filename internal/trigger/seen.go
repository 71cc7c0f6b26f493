package trigger

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/pkg/schema"
)

// FileDispatcher dispatches file events. *Dispatcher and *SeenFiles satisfy it.
type FileDispatcher interface {
	DispatchFileEvent(ctx context.Context, org schema.OrgContext, ev FileEvent) (*FileDispatchResult, error)
}

// SeenFiles deduplicates file events in front of a FileDispatcher. A file is
// remembered for ttl, and only once its dispatch fully succeeded, so a failed
// dispatch can be retried by redelivering the event.
type SeenFiles struct {
	next   FileDispatcher
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewSeenFiles wraps next.
func NewSeenFiles(next FileDispatcher, ttl time.Duration, logger *slog.Logger) *SeenFiles {
	if logger == nil {
		logger = slog.Default()
	}
	return &SeenFiles{
		next:   next,
		cache:  gocache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// DispatchFileEvent forwards ev unless it was already dispatched.
func (s *SeenFiles) DispatchFileEvent(ctx context.Context, org schema.OrgContext, ev FileEvent) (*FileDispatchResult, error) {
	key := seenKey(org.OrgID, ev)
	if _, found := s.cache.Get(key); found {
		logging.LogWith(logging.WithOrgID(ctx, org.OrgID), s.logger).Debug("duplicate file event",
			slog.String("file_path", ev.Path))
		return &FileDispatchResult{Duplicate: true}, nil
	}

	res, err := s.next.DispatchFileEvent(ctx, org, ev)
	if err != nil {
		return nil, err
	}
	if len(res.Failed) == 0 {
		s.cache.SetDefault(key, time.Now())
	}
	return res, nil
}

// Seen reports whether ev is currently remembered.
func (s *SeenFiles) Seen(orgID string, ev FileEvent) bool {
	_, found := s.cache.Get(seenKey(orgID, ev))
	return found
}

// Forget drops ev so it can be dispatched again.
func (s *SeenFiles) Forget(orgID string, ev FileEvent) {
	s.cache.Delete(seenKey(orgID, ev))
}

// seenKey identifies a file by provider id when known, else by its
// normalized path.
func seenKey(orgID string, ev FileEvent) string {
	if ev.FileID != "" {
		return orgID + "|id|" + ev.FileID
	}
	return orgID + "|path|" + normalizeFolder(ev.Path)
}
