package node

import (
	"context"
	"sync"

	"github.com/stitchbot/stitchbot/models"
)

// blockStream queues notifications without blocking the reader, so responses
// to calls made by the consumer are never stuck behind unread blocks.
type blockStream struct {
	mu     sync.Mutex
	queue  []*models.Block
	err    error
	notify chan struct{}
}

func newBlockStream(capacity int) *blockStream {
	return &blockStream{
		queue:  make([]*models.Block, 0, capacity),
		notify: make(chan struct{}, 1),
	}
}

func (s *blockStream) push(b *models.Block) {
	s.mu.Lock()
	s.queue = append(s.queue, b)
	s.mu.Unlock()
	s.wake()
}

func (s *blockStream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.wake()
}

func (s *blockStream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Recv returns the next queued block. Blocks queued before a failure are
// still delivered; the error is returned once the queue is drained.
func (s *blockStream) Recv(ctx context.Context) (*models.Block, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			b := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return b, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}
