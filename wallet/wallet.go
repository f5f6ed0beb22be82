package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2s"

	"github.com/stitchbot/stitchbot/logger"
	"github.com/stitchbot/stitchbot/models"
)

const mnemonicEntropyBits = 128 // 12 words

// Submitter hands a signed payment to the network.
type Submitter interface {
	SubmitTransaction(ctx context.Context, tx *models.PaymentTx) (string, error)
}

// Wallet holds the agent's signing key and pays rewards. Building and
// submitting a payment happen under one lock so concurrent payers never race
// on the nonce.
type Wallet struct {
	mu        sync.Mutex
	key       *ecdsa.PrivateKey
	address   string
	nonce     uint64
	submitter Submitter
}

// FromMnemonic derives the wallet key from a bip39 mnemonic.
func FromMnemonic(mnemonic string, submitter Submitter) (*Wallet, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid wallet mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	material := blake2s.Sum256(seed)
	key, err := crypto.ToECDSA(material[:])
	if err != nil {
		return nil, errors.Wrap(err, "derive wallet key")
	}
	return &Wallet{
		key:       key,
		address:   hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey)),
		submitter: submitter,
	}, nil
}

// LoadOrCreate reads the mnemonic stored at path, generating and storing a
// new one (mode 0600) when the file does not exist.
func LoadOrCreate(path string, submitter Submitter) (*Wallet, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return FromMnemonic(string(data), submitter)
	case !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "read mnemonic %s", path)
	}

	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return nil, errors.Wrap(err, "generate entropy")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, errors.Wrap(err, "generate mnemonic")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "create wallet dir")
	}
	if err := os.WriteFile(path, []byte(mnemonic+"\n"), 0o600); err != nil {
		return nil, errors.Wrapf(err, "write mnemonic %s", path)
	}
	logger.Logger.Info("Created new wallet", zap.String("path", path))
	return FromMnemonic(mnemonic, submitter)
}

// PrivateKey returns the signing key used for stitch requests and payments.
func (w *Wallet) PrivateKey() *ecdsa.PrivateKey {
	return w.key
}

// Address returns the hex compressed public key identifying the wallet.
func (w *Wallet) Address() string {
	return w.address
}

// CreateTransaction builds and signs a payment of amount to address and
// reserves its nonce; submitting it is up to the caller.
func (w *Wallet) CreateTransaction(address string, amount uint64) (*models.PaymentTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx, err := w.createLocked(address, amount)
	if err != nil {
		return nil, err
	}
	w.nonce = tx.Nonce
	return tx, nil
}

func (w *Wallet) createLocked(address string, amount uint64) (*models.PaymentTx, error) {
	if address == "" {
		return nil, errors.New("empty payout address")
	}
	if amount == 0 {
		return nil, errors.New("zero payout amount")
	}
	tx := &models.PaymentTx{From: w.address, To: address, Amount: amount, Nonce: w.nonce + 1}
	digest := TxDigest(tx)
	sig, err := crypto.Sign(digest[:], w.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign payment")
	}
	tx.Signature = sig[:64]
	return tx, nil
}

// SubmitTransaction submits a transaction built by CreateTransaction.
func (w *Wallet) SubmitTransaction(ctx context.Context, tx *models.PaymentTx) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitter.SubmitTransaction(ctx, tx)
}

// Pay builds, signs and submits a payment as one serialized step. The nonce
// only advances once the node accepts the transaction.
func (w *Wallet) Pay(ctx context.Context, address string, amount uint64) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.createLocked(address, amount)
	if err != nil {
		return "", errors.Wrap(err, "create reward transaction")
	}
	txID, err := w.submitter.SubmitTransaction(ctx, tx)
	if err != nil {
		return "", errors.Wrap(err, "submit reward transaction")
	}
	w.nonce = tx.Nonce
	return txID, nil
}

// TxDigest is the BLAKE2s-256 hash a payment signature covers.
func TxDigest(tx *models.PaymentTx) [32]byte {
	buf := make([]byte, 0, 64+len(tx.From)+len(tx.To))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(tx.From)))
	buf = append(buf, tx.From...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(tx.To)))
	buf = append(buf, tx.To...)
	buf = binary.LittleEndian.AppendUint64(buf, tx.Amount)
	buf = binary.LittleEndian.AppendUint64(buf, tx.Nonce)
	return blake2s.Sum256(buf)
}

// VerifyTx checks a payment signature against the sender's compressed key.
func VerifyTx(tx *models.PaymentTx) bool {
	pub, err := hex.DecodeString(tx.From)
	if err != nil {
		return false
	}
	digest := TxDigest(tx)
	return crypto.VerifySignature(pub, digest[:], tx.Signature)
}
