package stitch

import (
	"crypto/ecdsa"
	"time"

	"github.com/pkg/errors"

	"github.com/stitchbot/stitchbot/models"
	"github.com/stitchbot/stitchbot/p2p"
)

// Transport delivers an envelope best-effort to every connected peer.
type Transport interface {
	Broadcast(env p2p.Envelope) error
}

// Broadcaster signs stitch requests and gossips them to peers. Delivery is
// fire-and-forget: there is no acknowledgment and no per-peer retry.
type Broadcaster struct {
	transport Transport
	key       *ecdsa.PrivateKey
	ttl       time.Duration
	now       func() time.Time
}

// NewBroadcaster creates a broadcaster signing with key. Requests expire ttl
// after they are signed.
func NewBroadcaster(transport Transport, key *ecdsa.PrivateKey, ttl time.Duration) *Broadcaster {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Broadcaster{transport: transport, key: key, ttl: ttl, now: time.Now}
}

// Broadcast signs a request for the fracture and hands it to the transport.
func (b *Broadcaster) Broadcast(weak models.BlockHash, tips []models.BlockHash, reward uint64) (*Request, error) {
	expiry := uint64(b.now().Add(b.ttl).Unix())
	req, err := NewRequest(weak, tips, reward, expiry, b.key)
	if err != nil {
		return nil, err
	}
	payload, err := req.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "encode stitch request")
	}
	if err := b.transport.Broadcast(p2p.Envelope{Type: MsgType, Payload: payload}); err != nil {
		return nil, errors.Wrap(err, "broadcast stitch request")
	}
	return req, nil
}
