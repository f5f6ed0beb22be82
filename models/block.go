package models

// BlockHash is the hex identity of a block as reported by the node.
type BlockHash string

// Block is a block as returned by the node RPC.
type Block struct {
	Hash         BlockHash     `json:"hash"`
	Header       Header        `json:"header"`
	Transactions []Transaction `json:"transactions"`
}

// Header carries the consensus fields the agent reads.
type Header struct {
	BlueScore     uint64      `json:"blueScore"`
	DirectParents []BlockHash `json:"directParents"` // ordered as in the header
	Timestamp     uint64      `json:"timestamp"`     // unix milliseconds
}

type Transaction struct {
	ID      string   `json:"transactionId"`
	Outputs []Output `json:"outputs"`
}

type Output struct {
	Amount  uint64 `json:"amount"`
	Address string `json:"address"` // script public key rendered as an address, empty if non-standard
}

// BlockInfo is the immutable metadata the windowed DAG keeps per block.
type BlockInfo struct {
	Hash      BlockHash   `json:"hash"`
	BlueScore uint64      `json:"blue_score"`
	Parents   []BlockHash `json:"parents"`
	Timestamp uint64      `json:"timestamp"`
}

// Info extracts the DAG metadata of b. The parents slice is copied.
func (b *Block) Info() BlockInfo {
	parents := make([]BlockHash, len(b.Header.DirectParents))
	copy(parents, b.Header.DirectParents)
	return BlockInfo{
		Hash:      b.Hash,
		BlueScore: b.Header.BlueScore,
		Parents:   parents,
		Timestamp: b.Header.Timestamp,
	}
}

// MinerAddress returns the address of the first output of the first
// transaction (the coinbase payout). It is a best-effort heuristic.
func (b *Block) MinerAddress() (string, bool) {
	if len(b.Transactions) == 0 || len(b.Transactions[0].Outputs) == 0 {
		return "", false
	}
	addr := b.Transactions[0].Outputs[0].Address
	return addr, addr != ""
}
