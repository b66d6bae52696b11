package chain

import (
	`fmt`
	`sort`
)

// Output is a single spendable claim of Amount units credited to an
// address by the transaction TxID at OutputIndex.
type Output struct {
	TxID        string `json:"tx_id"`
	OutputIndex int    `json:"output_index"`
	Amount      uint64 `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
}

// Ledger is the per-address UTXO set plus a balance cache, the deterministic
// fold of every transaction applied in chain order.
type Ledger struct {
	outputs  map[string][]Output
	balances map[string]uint64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		outputs:  make(map[string][]Output),
		balances: make(map[string]uint64),
	}
}

// Balance returns address's cached spendable balance.
func (l *Ledger) Balance(address string) uint64 {
	return l.balances[address]
}

// Outputs returns a copy of address's unspent outputs.
func (l *Ledger) Outputs(address string) []Output {
	outs := l.outputs[address]
	out := make([]Output, len(outs))
	copy(out, outs)
	return out
}

// Add credits address with a new unspent output.
func (l *Ledger) Add(address, txID string, amount uint64, outputIndex int, timestamp int64) {
	l.outputs[address] = append(l.outputs[address], Output{
		TxID:        txID,
		OutputIndex: outputIndex,
		Amount:      amount,
		Timestamp:   timestamp,
	})
	l.balances[address] += amount
}

// CanProcess reports whether applying tx would not overdraw its sender.
func (l *Ledger) CanProcess(tx *Transaction) bool {
	if tx.IsCoinbase() {
		return true
	}
	return l.Balance(tx.FromAddress) >= tx.Amount+tx.Fee
}

// Process applies tx to the ledger: coinbase only adds; a transfer spends
// amount+fee from the sender (minting change back to the sender) and adds
// the transferred amount to the recipient.
func (l *Ledger) Process(tx *Transaction) error {
	if tx.IsCoinbase() {
		l.Add(tx.ToAddress, tx.TxID, tx.Amount, 0, tx.Timestamp)
		return nil
	}

	changeTxID := fmt.Sprintf("%s-change", tx.TxID)
	if err := l.spend(tx.FromAddress, tx.Amount+tx.Fee, changeTxID, tx.Timestamp); err != nil {
		return err
	}
	l.Add(tx.ToAddress, tx.TxID, tx.Amount, 0, tx.Timestamp)
	return nil
}

// spend selects address's outputs greedily largest-first until amount is
// covered, removes the consumed outputs, and mints a change output (index 1,
// synthetic id changeTxID) for the remainder. Greedy-largest-first keeps the
// number of inputs consumed per spend minimal and the change behavior
// predictable.
func (l *Ledger) spend(address string, amount uint64, changeTxID string, timestamp int64) error {
	if l.Balance(address) < amount {
		return ErrInsufficientFunds
	}

	outs := append([]Output{}, l.outputs[address]...)
	sort.Slice(outs, func(i, j int) bool { return outs[i].Amount > outs[j].Amount })

	consumed := make(map[Output]bool)
	var collected uint64
	for _, o := range outs {
		if collected >= amount {
			break
		}
		collected += o.Amount
		consumed[o] = true
	}

	remaining := l.outputs[address][:0:0]
	for _, o := range l.outputs[address] {
		if !consumed[o] {
			remaining = append(remaining, o)
		}
	}
	l.outputs[address] = remaining
	l.balances[address] -= collected

	if change := collected - amount; change > 0 {
		l.Add(address, changeTxID, change, 1, timestamp)
	}
	return nil
}

// Clone returns a deep, independent copy of the ledger, used to simulate a
// run of transactions (mempool block selection) without mutating the
// real ledger.
func (l *Ledger) Clone() *Ledger {
	clone := NewLedger()
	for addr, outs := range l.outputs {
		cp := make([]Output, len(outs))
		copy(cp, outs)
		clone.outputs[addr] = cp
	}
	for addr, bal := range l.balances {
		clone.balances[addr] = bal
	}
	return clone
}

// Clear empties the ledger, used before rebuilding it from a chain prefix.
func (l *Ledger) Clear() {
	l.outputs = make(map[string][]Output)
	l.balances = make(map[string]uint64)
}

// Rebuild clears the ledger and re-applies every transaction in every block
// of blocks, in order — the deterministic fold chain replacement relies on.
func (l *Ledger) Rebuild(blocks []*Block) error {
	l.Clear()
	for _, b := range blocks {
		for _, tx := range b.Transactions {
			if err := l.Process(tx); err != nil {
				return err
			}
		}
	}
	return nil
}
