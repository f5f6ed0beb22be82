package stitch

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/stitchbot/stitchbot/models"
)

const (
	maxHashLen = 256
	maxTips    = 1024
)

// ErrMalformed is returned when a payload does not decode as a Request.
var ErrMalformed = errors.New("malformed stitch request")

// canonical encodes the signed fields: weak block, tips, reward, expiry.
// Strings and lists carry a u64 little-endian length prefix.
func (r *Request) canonical() []byte {
	size := 8 + len(r.WeakBlock) + 8 + 16
	for _, t := range r.TipHashes {
		size += 8 + len(t)
	}
	buf := make([]byte, 0, size+8+SignatureLen+8+PublicKeyLen)

	buf = appendString(buf, string(r.WeakBlock))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(r.TipHashes)))
	for _, t := range r.TipHashes {
		buf = appendString(buf, string(t))
	}
	buf = binary.LittleEndian.AppendUint64(buf, r.Reward)
	buf = binary.LittleEndian.AppendUint64(buf, r.Expiry)
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

// MarshalBinary encodes the request as the canonical fields followed by the
// signature and the compressed public key, each as a length-prefixed byte
// string. This is the bincode v1 layout of the whole request.
func (r *Request) MarshalBinary() ([]byte, error) {
	buf := r.canonical()
	buf = appendBytes(buf, r.Signature[:])
	buf = appendBytes(buf, r.PublicKey[:])
	return buf, nil
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(b)))
	return append(buf, b...)
}

// UnmarshalBinary decodes a payload produced by MarshalBinary. It does not
// verify the signature.
func (r *Request) UnmarshalBinary(data []byte) error {
	d := decoder{buf: data}
	weak := d.string()
	n := d.uint64()
	if d.err == nil && (n < 2 || n > maxTips) {
		d.fail("tip count %d out of range", n)
	}
	var tips []models.BlockHash
	if d.err == nil {
		tips = make([]models.BlockHash, 0, n)
		for i := uint64(0); i < n && d.err == nil; i++ {
			tips = append(tips, models.BlockHash(d.string()))
		}
	}
	reward := d.uint64()
	expiry := d.uint64()
	sig := d.fixed(SignatureLen)
	pub := d.fixed(PublicKeyLen)
	if d.err == nil && len(d.buf) != 0 {
		d.fail("%d trailing bytes", len(d.buf))
	}
	if d.err != nil {
		return d.err
	}

	*r = Request{
		WeakBlock: models.BlockHash(weak),
		TipHashes: tips,
		Reward:    reward,
		Expiry:    expiry,
	}
	copy(r.Signature[:], sig)
	copy(r.PublicKey[:], pub)
	return nil
}

// Decode parses a wire payload into a Request.
func Decode(data []byte) (*Request, error) {
	r := new(Request)
	if err := r.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return r, nil
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = errors.Wrapf(ErrMalformed, format, args...)
	}
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.fail("need %d bytes, have %d", n, len(d.buf))
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

// fixed reads a length-prefixed byte string that must be exactly n bytes long.
func (d *decoder) fixed(n int) []byte {
	l := d.uint64()
	if d.err != nil {
		return nil
	}
	if l != uint64(n) {
		d.fail("field length %d, want %d", l, n)
		return nil
	}
	return d.bytes(n)
}

func (d *decoder) uint64() uint64 {
	b := d.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) string() string {
	n := d.uint64()
	if d.err != nil {
		return ""
	}
	if n > maxHashLen {
		d.fail("hash length %d exceeds %d", n, maxHashLen)
		return ""
	}
	return string(d.bytes(int(n)))
}
