package stitch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/stitchbot/stitchbot/models"
)

// scriptedFetcher returns its responses in order, repeating the last one.
type scriptedFetcher struct {
	mu        sync.Mutex
	responses []fetchResult
	calls     int
}

type fetchResult struct {
	block *models.Block
	err   error
}

func (s *scriptedFetcher) GetBlock(context.Context, models.BlockHash) (*models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return s.responses[i].block, s.responses[i].err
}

type recordingPayer struct {
	mu    sync.Mutex
	paid  []string
	total uint64
	err   error
}

func (p *recordingPayer) Pay(_ context.Context, address string, amount uint64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.paid = append(p.paid, address)
	p.total += amount
	return "tx-" + address, nil
}

func block(miner string, parents ...models.BlockHash) *models.Block {
	b := &models.Block{Hash: "trigger", Header: models.Header{DirectParents: parents}}
	if miner != "" {
		b.Transactions = []models.Transaction{{Outputs: []models.Output{{Amount: 50, Address: miner}}}}
	}
	return b
}

var job = Job{ID: "s1", Block: "trigger", Tips: []models.BlockHash{"t1", "t2"}, Reward: 300}

func TestWatcherPaysWhenHealed(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResult{
		{err: errors.New("timeout")},
		{block: block("kaspa:miner", "t1")},
		{block: block("kaspa:miner", "t2", "x", "t1")},
	}}
	payer := &recordingPayer{}
	w := NewWatcher(fetcher, payer, time.Millisecond, 10)

	out := w.Watch(context.Background(), job)
	require.Equal(t, models.StitchHealed, out.Status)
	require.Equal(t, 3, out.Attempts)
	require.Equal(t, "tx-kaspa:miner", out.TxID)
	require.Equal(t, []string{"kaspa:miner"}, payer.paid)
	require.Equal(t, uint64(300), payer.total)
}

func TestWatcherGivesUp(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResult{{block: block("kaspa:miner", "t1")}}}
	payer := &recordingPayer{}
	w := NewWatcher(fetcher, payer, time.Millisecond, 5)

	out := w.Watch(context.Background(), job)
	require.Equal(t, models.StitchTimeout, out.Status)
	require.Equal(t, 5, fetcher.calls)
	require.Empty(t, payer.paid)
}

func TestWatcherPaymentFailureNotRetried(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResult{{block: block("kaspa:miner", "t1", "t2")}}}
	payer := &recordingPayer{err: errors.New("insufficient funds")}
	w := NewWatcher(fetcher, payer, time.Millisecond, 5)

	out := w.Watch(context.Background(), job)
	require.Equal(t, models.StitchFailed, out.Status)
	require.Error(t, out.Err)
	require.Equal(t, 1, fetcher.calls)
}

func TestWatcherNoMinerAddress(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResult{{block: block("", "t1", "t2")}}}
	payer := &recordingPayer{}
	w := NewWatcher(fetcher, payer, time.Millisecond, 5)

	out := w.Watch(context.Background(), job)
	require.Equal(t, models.StitchFailed, out.Status)
	require.Empty(t, payer.paid)
}

func TestWatcherStopsOnCancel(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResult{{block: block("m", "t1")}}}
	w := NewWatcher(fetcher, &recordingPayer{}, time.Hour, 30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := w.Watch(ctx, job)
	require.Equal(t, models.StitchTimeout, out.Status)
	require.ErrorIs(t, out.Err, context.Canceled)
	require.Equal(t, 0, fetcher.calls)
}
