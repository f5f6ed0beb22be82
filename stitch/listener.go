package stitch

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2s"

	"github.com/stitchbot/stitchbot/logger"
)

const seenCacheSize = 4096

// Listener validates inbound stitch requests and hands valid ones onward.
// Requests that fail to decode, fail verification, have expired, or were
// already seen are dropped without surfacing an error.
type Listener struct {
	seen *expirable.LRU[[32]byte, struct{}]
	out  chan *Request
	now  func() time.Time
}

// NewListener creates a listener buffering up to buffer validated requests.
func NewListener(buffer int) *Listener {
	return &Listener{
		seen: expirable.NewLRU[[32]byte, struct{}](seenCacheSize, nil, 2*DefaultTTL),
		out:  make(chan *Request, buffer),
		now:  time.Now,
	}
}

// Requests yields validated, unexpired requests.
func (l *Listener) Requests() <-chan *Request {
	return l.out
}

// Handle processes one payload received from peer. It has the shape of a
// p2p.Handler so it can be registered for MsgType directly.
func (l *Listener) Handle(peer string, payload []byte) {
	key := blake2s.Sum256(payload)
	if l.seen.Contains(key) {
		return
	}

	req, err := Decode(payload)
	if err != nil {
		logger.Logger.Debug("Dropping undecodable stitch request", zap.String("peer", peer), zap.Error(err))
		return
	}
	if !req.Verify() {
		logger.Logger.Debug("Dropping stitch request with bad signature", zap.String("peer", peer))
		return
	}
	if req.Expired(l.now()) {
		logger.Logger.Debug("Dropping expired stitch request", zap.String("peer", peer), zap.Uint64("expiry", req.Expiry))
		return
	}
	l.seen.Add(key, struct{}{})

	select {
	case l.out <- req:
		logger.Logger.Info("Valid stitch request",
			zap.String("peer", peer),
			zap.String("weak_block", string(req.WeakBlock)),
			zap.Int("tips", len(req.TipHashes)),
			zap.Uint64("reward", req.Reward))
	default:
		logger.Logger.Warn("Stitch request queue full, dropping", zap.String("weak_block", string(req.WeakBlock)))
	}
}
