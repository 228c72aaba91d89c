package inprocess

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

type blockingProcessor struct {
	release chan struct{}
	mu      sync.Mutex
	seen    []string
	started chan string
}

func (p *blockingProcessor) ProcessJob(_ context.Context, jobID string) error {
	p.started <- jobID
	<-p.release
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, jobID)
	return nil
}

func TestDispatchRunsJobAndRejectsWhenSaturated(t *testing.T) {
	proc := &blockingProcessor{release: make(chan struct{}), started: make(chan string, 2)}
	d, err := New(context.Background(), 1, proc, nil)
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), "job-1"))
	select {
	case id := <-proc.started:
		assert.Equal(t, "job-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}

	err = d.Dispatch(context.Background(), "job-2")
	assert.True(t, domain.IsKind(err, domain.ErrTemporary), "expected ErrTemporary, got %v", err)

	close(proc.release)
	require.NoError(t, d.Close(2*time.Second))

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Equal(t, []string{"job-1"}, proc.seen)
}
