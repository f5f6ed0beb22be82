package stitch

import (
	"crypto/ecdsa"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2s"

	"github.com/stitchbot/stitchbot/models"
)

const (
	// MsgType tags stitch requests on the shared peer transport.
	MsgType byte = 0xF0

	SignatureLen = 64 // compact R || S
	PublicKeyLen = 33 // compressed secp256k1 point

	// DefaultTTL is how long a request stays valid after signing.
	DefaultTTL = 30 * time.Second
)

// Request asks miners to reference every tip as a direct parent of their next
// block. It is self-certifying: Verify proves integrity and the identity of the
// embedded key, not that the signer is entitled to ask.
type Request struct {
	WeakBlock models.BlockHash
	TipHashes []models.BlockHash
	Reward    uint64 // sompi
	Expiry    uint64 // unix seconds
	Signature [SignatureLen]byte
	PublicKey [PublicKeyLen]byte
}

// NewRequest builds and signs a request with key. Requests that receivers
// would reject as malformed are refused here.
func NewRequest(weak models.BlockHash, tips []models.BlockHash, reward, expiry uint64, key *ecdsa.PrivateKey) (*Request, error) {
	if len(tips) < 2 || len(tips) > maxTips {
		return nil, errors.Errorf("stitch needs 2..%d tips, got %d", maxTips, len(tips))
	}
	if len(weak) > maxHashLen {
		return nil, errors.Errorf("weak block hash length %d exceeds %d", len(weak), maxHashLen)
	}
	for _, t := range tips {
		if len(t) > maxHashLen {
			return nil, errors.Errorf("tip hash length %d exceeds %d", len(t), maxHashLen)
		}
	}
	r := &Request{
		WeakBlock: weak,
		TipHashes: append([]models.BlockHash(nil), tips...),
		Reward:    reward,
		Expiry:    expiry,
	}
	copy(r.PublicKey[:], crypto.CompressPubkey(&key.PublicKey))

	digest := r.Digest()
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, errors.Wrap(err, "sign stitch request")
	}
	copy(r.Signature[:], sig[:SignatureLen])
	return r, nil
}

// Digest is the BLAKE2s-256 hash of the canonical encoding of the signed fields.
func (r *Request) Digest() [32]byte {
	return blake2s.Sum256(r.canonical())
}

// Verify checks the signature against the embedded public key. Malformed keys
// or signatures yield false.
func (r *Request) Verify() bool {
	digest := r.Digest()
	return crypto.VerifySignature(r.PublicKey[:], digest[:], r.Signature[:])
}

// Expired reports whether the request is no longer valid at now.
func (r *Request) Expired(now time.Time) bool {
	return uint64(now.Unix()) >= r.Expiry
}

// Signer returns the embedded public key, or an error if it does not parse.
func (r *Request) Signer() (*ecdsa.PublicKey, error) {
	return crypto.DecompressPubkey(r.PublicKey[:])
}
