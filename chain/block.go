package chain

import (
	`context`
	`fmt`
	`strings`

	`cosmochain/crypto`
)

// yieldInterval is how often, in PoW attempts, the mining loop checks for
// cancellation. Kept on the order of a thousand attempts so shutdown and
// inbound message handling stay responsive.
const yieldInterval = 1000

// Block is a block header plus its transaction list.
type Block struct {
	Index        uint64         `json:"index"`
	PreviousHash string         `json:"previous_hash"`
	Timestamp    int64          `json:"timestamp"`
	Transactions []*Transaction `json:"transactions"`
	Nonce        uint64         `json:"nonce"`
	Hash         string         `json:"hash"`
	MerkleRoot   string         `json:"merkle_root"`
}

// NewCandidateBlock builds an unmined block ready for Mine. The caller is
// responsible for ordering Transactions (coinbase first, by convention).
func NewCandidateBlock(index uint64, previousHash string, txs []*Transaction, timestamp int64) *Block {
	b := &Block{
		Index:        index,
		PreviousHash: previousHash,
		Timestamp:    timestamp,
		Transactions: txs,
	}
	b.MerkleRoot = MerkleRoot(txIDs(txs))
	return b
}

// NewGenesisBlock builds block 0, crediting the miner address with a
// coinbase reward. Genesis carries no proof-of-work requirement.
func NewGenesisBlock(coinbase *Transaction, timestamp int64) *Block {
	b := &Block{
		Index:        0,
		PreviousHash: "0",
		Timestamp:    timestamp,
		Transactions: []*Transaction{coinbase},
	}
	b.MerkleRoot = MerkleRoot(txIDs([]*Transaction{coinbase}))
	b.Hash = b.computeHash()
	return b
}

func txIDs(txs []*Transaction) []string {
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.TxID
	}
	return ids
}

// computeHash re-derives the block hash from its current fields.
func (b *Block) computeHash() string {
	payload := fmt.Sprintf("%d|%s|%d|%s|%d", b.Index, b.PreviousHash, b.Timestamp, b.MerkleRoot, b.Nonce)
	h := crypto.Sha256([]byte(payload))
	return h.Hex()
}

// HasValidHash reports whether b.Hash matches a fresh recomputation.
func (b *Block) HasValidHash() bool {
	return b.Hash == b.computeHash()
}

// HasValidProofOfWork reports whether b.Hash has at least difficulty
// leading hex '0' characters.
func (b *Block) HasValidProofOfWork(difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(b.Hash) < difficulty {
		return false
	}
	return strings.Count(b.Hash[:difficulty], "0") == difficulty
}

// HasValidTransactions reports whether every transaction in the block is
// individually valid.
func (b *Block) HasValidTransactions() bool {
	for _, tx := range b.Transactions {
		if !tx.IsValid() {
			return false
		}
	}
	return true
}

// HasValidMerkleRoot reports whether MerkleRoot matches the transaction set.
func (b *Block) HasValidMerkleRoot() bool {
	return b.MerkleRoot == MerkleRoot(txIDs(b.Transactions))
}

// Mine runs the proof-of-work search, yielding cooperatively every
// yieldInterval attempts so ctx cancellation (such as a mining stop) is
// observed with bounded latency. It mutates
// b.Nonce and b.Hash in place.
func (b *Block) Mine(ctx context.Context, difficulty int) error {
	var attempts uint64
	for {
		b.Hash = b.computeHash()
		if b.HasValidProofOfWork(difficulty) {
			return nil
		}
		b.Nonce++
		attempts++

		if attempts%yieldInterval == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}
}
