package chain

import (
	`sync`

	`github.com/pkg/errors`
)

// RetargetInterval is the block count between difficulty adjustments.
const RetargetInterval = 10

// TargetBlockTimeMs is the desired time, in milliseconds, between blocks.
const TargetBlockTimeMs = 10_000

// MinDifficulty is the floor the retarget rule never drops below.
const MinDifficulty = 1

// MaxDifficulty is the ceiling the external set_difficulty API enforces.
const MaxDifficulty = 10

// Chain is the ordered, hash-linked sequence of blocks plus the UTXO
// ledger folded from it. Its own lock serializes appends and
// replacements, which may come from the mining goroutine and from peer
// goroutines alike.
type Chain struct {
	mu                sync.RWMutex
	blocks            []*Block
	difficulty        int
	initialDifficulty int
	ledger            *Ledger
}

// NewChain starts a chain at genesis with the given starting difficulty.
func NewChain(genesis *Block, initialDifficulty int) (*Chain, error) {
	c := &Chain{
		blocks:            []*Block{genesis},
		difficulty:        initialDifficulty,
		initialDifficulty: initialDifficulty,
		ledger:            NewLedger(),
	}
	for _, tx := range genesis.Transactions {
		if err := c.ledger.Process(tx); err != nil {
			return nil, errors.Wrap(err, "chain: apply genesis block")
		}
	}
	return c, nil
}

// Tip returns the current highest block.
func (c *Chain) Tip() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// Height returns the tip's index.
func (c *Chain) Height() uint64 {
	return c.Tip().Index
}

// Len returns the number of blocks in the chain.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Difficulty returns the difficulty the next block must satisfy.
func (c *Chain) Difficulty() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.difficulty
}

// SetDifficulty overrides the current difficulty, clamped to
// [MinDifficulty, MaxDifficulty] per the external API's accepted range.
// Takes effect for the next candidate block only.
func (c *Chain) SetDifficulty(d int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < MinDifficulty {
		d = MinDifficulty
	}
	if d > MaxDifficulty {
		d = MaxDifficulty
	}
	c.difficulty = d
}

// Ledger returns a snapshot copy of the chain's UTXO ledger, taken under
// the chain's lock so it never races with an append or a replacement.
func (c *Chain) Ledger() *Ledger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Clone()
}

// Blocks returns a snapshot copy of the chain's blocks, safe to hand to a
// reader outside the owning goroutine.
func (c *Chain) Blocks() []*Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// BlockByHeight returns the block at the given index.
func (c *Chain) BlockByHeight(index uint64) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index >= uint64(len(c.blocks)) {
		return nil, false
	}
	return c.blocks[index], true
}

// BlockByHash returns the block with the given hash.
func (c *Chain) BlockByHash(hash string) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.blocks {
		if b.Hash == hash {
			return b, true
		}
	}
	return nil, false
}

// Range returns up to limit blocks starting at offset (height order), and
// whether more blocks exist beyond the returned page.
func (c *Chain) Range(offset, limit int) ([]*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if offset >= len(c.blocks) || offset < 0 {
		return nil, false
	}
	end := offset + limit
	hasMore := end < len(c.blocks)
	if end > len(c.blocks) {
		end = len(c.blocks)
	}
	out := make([]*Block, end-offset)
	copy(out, c.blocks[offset:end])
	return out, hasMore
}

// FindTransaction searches the chain for txID, returning the transaction,
// the block that contains it, and the number of confirmations.
func (c *Chain) FindTransaction(txID string) (*Transaction, *Block, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tip := c.blocks[len(c.blocks)-1]
	for _, b := range c.blocks {
		for _, tx := range b.Transactions {
			if tx.TxID == txID {
				return tx, b, tip.Index - b.Index, true
			}
		}
	}
	return nil, nil, 0, false
}

// IsValidNewBlock checks newBlock against prev: index, link, hash,
// proof-of-work, and transaction validity.
func (c *Chain) IsValidNewBlock(newBlock, prev *Block) error {
	if newBlock.Index != prev.Index+1 {
		return errors.Wrap(ErrInvalidBlock, "chain: non-consecutive index")
	}
	if newBlock.PreviousHash != prev.Hash {
		return errors.Wrap(ErrInvalidBlock, "chain: previous hash mismatch")
	}
	if !newBlock.HasValidMerkleRoot() {
		return errors.Wrap(ErrInvalidBlock, "chain: merkle root mismatch")
	}
	if !newBlock.HasValidHash() {
		return errors.Wrap(ErrInvalidBlock, "chain: hash does not match contents")
	}
	difficulty := c.expectedDifficulty(c.blocks, newBlock.Index)
	if !newBlock.HasValidProofOfWork(difficulty) {
		return errors.Wrap(ErrInvalidBlock, "chain: insufficient proof of work")
	}
	if !newBlock.HasValidTransactions() {
		return errors.Wrap(ErrInvalidBlock, "chain: contains an invalid transaction")
	}
	return nil
}

// IsValidChain folds pairwise validation across blocks from index 1;
// genesis (index 0) is trusted as the constructor set it.
func (c *Chain) IsValidChain(blocks []*Block) bool {
	if len(blocks) == 0 || blocks[0].Index != 0 {
		return false
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Index != blocks[i-1].Index+1 {
			return false
		}
		if blocks[i].PreviousHash != blocks[i-1].Hash {
			return false
		}
		if !blocks[i].HasValidMerkleRoot() || !blocks[i].HasValidHash() {
			return false
		}
		difficulty := c.expectedDifficulty(blocks, blocks[i].Index)
		if !blocks[i].HasValidProofOfWork(difficulty) {
			return false
		}
		if !blocks[i].HasValidTransactions() {
			return false
		}
	}
	return true
}

// expectedDifficulty replays the retarget rule over blocks (assumed valid
// up to the point being checked) starting from the chain's initial
// difficulty, so both our own growing chain and a freshly received
// candidate chain are judged by the same deterministic rule.
func (c *Chain) expectedDifficulty(blocks []*Block, uptoIndex uint64) int {
	difficulty := c.initialDifficulty
	for idx := uint64(RetargetInterval); idx < uptoIndex && idx < uint64(len(blocks)); idx += RetargetInterval {
		difficulty = retarget(difficulty, blocks[idx].Timestamp, blocks[idx-RetargetInterval].Timestamp)
	}
	return difficulty
}

// retarget applies the difficulty adjustment rule for a single window.
func retarget(difficulty int, latestTs, windowStartTs int64) int {
	actual := latestTs - windowStartTs
	expected := int64(RetargetInterval * TargetBlockTimeMs)
	switch {
	case actual < expected/2:
		return difficulty + 1
	case actual > expected*2:
		if difficulty > MinDifficulty {
			return difficulty - 1
		}
		return MinDifficulty
	default:
		return difficulty
	}
}

// Append validates b against the current tip and, on success, adds it to
// the chain, applies it to the ledger, and retargets difficulty if b falls
// on a retarget boundary.
func (c *Chain) Append(b *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.blocks[len(c.blocks)-1]
	if err := c.isValidNewBlockLocked(b, tip); err != nil {
		return err
	}
	for _, tx := range b.Transactions {
		if err := c.ledger.Process(tx); err != nil {
			return errors.Wrap(err, "chain: apply block to ledger")
		}
	}
	c.blocks = append(c.blocks, b)
	c.maybeRetargetLocked(b.Index)
	return nil
}

// isValidNewBlockLocked is IsValidNewBlock without re-acquiring the lock,
// for callers that already hold it.
func (c *Chain) isValidNewBlockLocked(newBlock, prev *Block) error {
	if newBlock.Index != prev.Index+1 {
		return errors.Wrap(ErrInvalidBlock, "chain: non-consecutive index")
	}
	if newBlock.PreviousHash != prev.Hash {
		return errors.Wrap(ErrInvalidBlock, "chain: previous hash mismatch")
	}
	if !newBlock.HasValidMerkleRoot() || !newBlock.HasValidHash() {
		return errors.Wrap(ErrInvalidBlock, "chain: hash does not match contents")
	}
	difficulty := c.expectedDifficulty(c.blocks, newBlock.Index)
	if !newBlock.HasValidProofOfWork(difficulty) {
		return errors.Wrap(ErrInvalidBlock, "chain: insufficient proof of work")
	}
	if !newBlock.HasValidTransactions() {
		return errors.Wrap(ErrInvalidBlock, "chain: contains an invalid transaction")
	}
	return nil
}

// maybeRetargetLocked adjusts c.difficulty after appending the block at
// index, firing exactly when index is a nonzero multiple of
// RetargetInterval.
func (c *Chain) maybeRetargetLocked(index uint64) {
	if index == 0 || index%RetargetInterval != 0 {
		return
	}
	latest := c.blocks[len(c.blocks)-1]
	windowStart := c.blocks[len(c.blocks)-1-RetargetInterval]
	c.difficulty = retarget(c.difficulty, latest.Timestamp, windowStart.Timestamp)
}

// Replace swaps in candidate iff it is strictly longer than the local
// chain and fully valid. On success the ledger is rebuilt from scratch by
// re-folding candidate in order. Equal-length candidates never replace.
func (c *Chain) Replace(candidate []*Block) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(candidate) <= len(c.blocks) {
		return false, nil
	}
	if !c.IsValidChain(candidate) {
		return false, errors.Wrap(ErrInvalidBlock, "chain: candidate chain failed validation")
	}

	newLedger := NewLedger()
	if err := newLedger.Rebuild(candidate); err != nil {
		return false, errors.Wrap(err, "chain: rebuild ledger for candidate chain")
	}

	c.blocks = append([]*Block{}, candidate...)
	c.ledger = newLedger
	// +1: the difficulty the *next* candidate must satisfy, so a tip that
	// sits exactly on a retarget boundary has its own retarget folded in,
	// matching maybeRetargetLocked's behavior on the normal append path.
	c.difficulty = c.expectedDifficulty(c.blocks, c.blocks[len(c.blocks)-1].Index+1)
	return true, nil
}
