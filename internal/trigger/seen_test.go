package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/pkg/schema"
)

// stubDispatcher counts calls and returns a canned result.
type stubDispatcher struct {
	calls  int
	result *FileDispatchResult
	err    error
}

func (s *stubDispatcher) DispatchFileEvent(context.Context, schema.OrgContext, FileEvent) (*FileDispatchResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestSeenFiles_DeduplicatesAfterSuccess(t *testing.T) {
	next := &stubDispatcher{result: &FileDispatchResult{RunsCreated: 1, Runs: []FileRun{{ProcedureID: "p", RunID: "r"}}}}
	seen := NewSeenFiles(next, time.Hour, logging.Discard())
	ev := FileEvent{Path: "/invoices/q1.pdf", FileID: "f-1"}

	res, err := seen.DispatchFileEvent(context.Background(), org, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RunsCreated)
	assert.True(t, seen.Seen(org.OrgID, ev))

	res, err = seen.DispatchFileEvent(context.Background(), org, ev)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Zero(t, res.RunsCreated)
	assert.Equal(t, 1, next.calls)
}

func TestSeenFiles_NotCachedOnError(t *testing.T) {
	next := &stubDispatcher{err: errors.New("store down")}
	seen := NewSeenFiles(next, time.Hour, logging.Discard())
	ev := FileEvent{Path: "/invoices/q1.pdf"}

	_, err := seen.DispatchFileEvent(context.Background(), org, ev)
	require.Error(t, err)
	assert.False(t, seen.Seen(org.OrgID, ev))

	next.err = nil
	next.result = &FileDispatchResult{}
	_, err = seen.DispatchFileEvent(context.Background(), org, ev)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestSeenFiles_NotCachedOnPartialFailure(t *testing.T) {
	next := &stubDispatcher{result: &FileDispatchResult{Failed: []DispatchFailure{{ProcedureID: "p", Error: "x"}}}}
	seen := NewSeenFiles(next, time.Hour, logging.Discard())
	ev := FileEvent{Path: "/invoices/q1.pdf"}

	_, err := seen.DispatchFileEvent(context.Background(), org, ev)
	require.NoError(t, err)
	assert.False(t, seen.Seen(org.OrgID, ev))
}

func TestSeenFiles_Keys(t *testing.T) {
	next := &stubDispatcher{result: &FileDispatchResult{}}
	seen := NewSeenFiles(next, time.Hour, logging.Discard())
	ctx := context.Background()

	_, err := seen.DispatchFileEvent(ctx, org, FileEvent{Path: "/Invoices/q1.pdf"})
	require.NoError(t, err)

	// Same file by normalized path.
	assert.True(t, seen.Seen(org.OrgID, FileEvent{Path: `invoices\q1.pdf`}))
	// Other orgs are tracked separately.
	assert.False(t, seen.Seen("org-2", FileEvent{Path: "/Invoices/q1.pdf"}))

	seen.Forget(org.OrgID, FileEvent{Path: "/invoices/q1.pdf"})
	assert.False(t, seen.Seen(org.OrgID, FileEvent{Path: "/Invoices/q1.pdf"}))
}

func TestSeenFiles_Expires(t *testing.T) {
	next := &stubDispatcher{result: &FileDispatchResult{}}
	seen := NewSeenFiles(next, 20*time.Millisecond, logging.Discard())
	ev := FileEvent{FileID: "f-1", Path: "a/b.txt"}

	_, err := seen.DispatchFileEvent(context.Background(), org, ev)
	require.NoError(t, err)
	assert.True(t, seen.Seen(org.OrgID, ev))

	assert.Eventually(t, func() bool { return !seen.Seen(org.OrgID, ev) }, time.Second, 10*time.Millisecond)
}
