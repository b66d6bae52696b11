// Package mempool implements the pool of pending, not-yet-mined
// transactions a node has accepted but not discarded.
package mempool

import (
	`sort`
	`sync`

	`cosmochain/chain`

	`github.com/pkg/errors`
)

// ErrDuplicateTransaction is returned when a transaction with the same
// tx_id is already pending.
var ErrDuplicateTransaction = errors.New("mempool: duplicate transaction")

// Pool is the set of pending transactions, keyed by tx_id. Admission and
// removal come from peer goroutines, the mining goroutine and API callers
// alike; Pool guards its own state with a mutex so none of them race.
type Pool struct {
	mu  sync.Mutex
	txs map[string]*chain.Transaction
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{txs: make(map[string]*chain.Transaction)}
}

// Add admits tx if it is individually valid, not already pending, and the
// sender (per ledger) can cover amount+fee. Coinbase transactions are
// never admitted to the pool; they only ever arrive inside mined blocks.
func (p *Pool) Add(tx *chain.Transaction, ledger *chain.Ledger) error {
	if tx.IsCoinbase() {
		return errors.Wrap(chain.ErrMalformed, "mempool: coinbase transactions are not admissible")
	}
	if err := tx.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.txs[tx.TxID]; exists {
		return ErrDuplicateTransaction
	}
	if !ledger.CanProcess(tx) {
		return chain.ErrInsufficientFunds
	}
	p.txs[tx.TxID] = tx.Clone()
	return nil
}

// Has reports whether txID is pending.
func (p *Pool) Has(txID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.txs[txID]
	return ok
}

// Get returns the pending transaction with txID, if any.
func (p *Pool) Get(txID string) (*chain.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.txs[txID]
	if !ok {
		return nil, false
	}
	return tx.Clone(), true
}

// Remove drops txID from the pool, if present.
func (p *Pool) Remove(txID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.txs, txID)
}

// RemoveMined drops every transaction in block from the pool — called
// after a block is appended so its transactions stop being candidates for
// the next one.
func (p *Pool) RemoveMined(block *chain.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tx := range block.Transactions {
		delete(p.txs, tx.TxID)
	}
}

// Size returns the number of pending transactions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// All returns a snapshot copy of every pending transaction, in no
// particular order.
func (p *Pool) All() []*chain.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*chain.Transaction, 0, len(p.txs))
	for _, tx := range p.txs {
		out = append(out, tx.Clone())
	}
	return out
}

// SelectForBlock picks pending transactions for a candidate block,
// highest fee first, skipping any transaction that would double-spend
// against another already selected in this pass. ledger is not mutated;
// a scratch clone tracks balances across the selection so two pending
// transactions spending the same funds can't both land in one block.
// At most maxCount transactions are returned, leaving room for the
// block's coinbase.
func (p *Pool) SelectForBlock(ledger *chain.Ledger, maxCount int) []*chain.Transaction {
	p.mu.Lock()
	candidates := make([]*chain.Transaction, 0, len(p.txs))
	for _, tx := range p.txs {
		candidates = append(candidates, tx)
	}
	p.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Fee != candidates[j].Fee {
			return candidates[i].Fee > candidates[j].Fee
		}
		return candidates[i].TxID < candidates[j].TxID
	})

	scratch := ledger.Clone()
	selected := make([]*chain.Transaction, 0, maxCount)
	for _, tx := range candidates {
		if len(selected) >= maxCount {
			break
		}
		if !scratch.CanProcess(tx) {
			continue
		}
		if err := scratch.Process(tx); err != nil {
			continue
		}
		selected = append(selected, tx.Clone())
	}
	return selected
}
