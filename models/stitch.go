package models

// StitchStatus tracks a broadcast stitch through confirmation.
type StitchStatus string

const (
	StitchPending StitchStatus = "pending"
	StitchHealed  StitchStatus = "healed"
	StitchTimeout StitchStatus = "timeout"
	StitchFailed  StitchStatus = "failed" // healed, but the reward could not be paid
)

// StitchRecord is the ledger entry kept for every broadcast stitch.
type StitchRecord struct {
	ID           string       `json:"id"`
	WeakBlock    BlockHash    `json:"weak_block"`    // branch node of the fracture
	TriggerBlock BlockHash    `json:"trigger_block"` // block whose arrival caused the stitch
	Tips         []BlockHash  `json:"tips"`
	Reward       uint64       `json:"reward"` // sompi
	Expiry       uint64       `json:"expiry"` // unix seconds
	BlueDelta    uint64       `json:"blue_delta"`
	SUS          float64      `json:"sus"`
	Status       StitchStatus `json:"status"`
	TxID         string       `json:"tx_id,omitempty"`
	MinerAddress string       `json:"miner_address,omitempty"`
	CreatedAt    int64        `json:"created_at"` // unix timestamp in ms
	UpdatedAt    int64        `json:"updated_at"`
}

// PaymentTx is a signed reward payment built by the wallet.
type PaymentTx struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Signature []byte `json:"signature"`
}
