// Package chain holds the transaction and block data model, the UTXO
// ledger, and the ordered chain with its validation and replacement rules.
package chain

import (
	`fmt`

	`cosmochain/crypto`
	`cosmochain/wallet`

	`github.com/pkg/errors`
)

// Errors returned by transaction and block validation. Callers
// distinguish them with errors.Is.
var (
	ErrMalformed         = errors.New("chain: malformed transaction")
	ErrInvalidSignature  = errors.New("chain: invalid signature")
	ErrInsufficientFunds = errors.New("chain: insufficient funds")
	ErrInvalidBlock      = errors.New("chain: invalid block")
)

// Signature mirrors crypto.Signature but is the JSON-friendly wire shape:
// {r, s, recovery_id}.
type Signature struct {
	R          string `json:"r"`
	S          string `json:"s"`
	RecoveryID byte   `json:"recovery_id"`
}

func toWireSignature(sig crypto.Signature) Signature {
	return Signature{
		R:          crypto.EncodeHex(sig.R[:]),
		S:          crypto.EncodeHex(sig.S[:]),
		RecoveryID: sig.RecoveryID,
	}
}

func (s Signature) toCryptoSignature() (crypto.Signature, error) {
	var out crypto.Signature
	r, err := crypto.DecodeHex(s.R)
	if err != nil || len(r) != 32 {
		return out, errors.Wrap(ErrMalformed, "chain: bad signature r")
	}
	sBytes, err := crypto.DecodeHex(s.S)
	if err != nil || len(sBytes) != 32 {
		return out, errors.Wrap(ErrMalformed, "chain: bad signature s")
	}
	copy(out.R[:], r)
	copy(out.S[:], sBytes)
	out.RecoveryID = s.RecoveryID
	return out, nil
}

// Transaction is an immutable transfer record. FromAddress is empty for a
// coinbase transaction.
type Transaction struct {
	FromAddress string     `json:"from_address"`
	ToAddress   string     `json:"to_address"`
	Amount      uint64     `json:"amount"`
	Fee         uint64     `json:"fee"`
	Timestamp   int64      `json:"timestamp"`
	Signature   *Signature `json:"signature,omitempty"`
	TxID        string     `json:"tx_id"`
}

// IsCoinbase reports whether tx is the block's special reward transaction.
func (tx *Transaction) IsCoinbase() bool {
	return tx.FromAddress == ""
}

// idPayload is the canonical, fixed-order serialization of the five
// id-bearing fields, used both to compute TxID and to re-derive it for
// validation.
func idPayload(from, to string, amount, fee uint64, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d|%d|%d", from, to, amount, fee, timestamp))
}

// computeID hashes tx's id-bearing fields.
func computeID(from, to string, amount, fee uint64, timestamp int64) string {
	h := crypto.Sha256(idPayload(from, to, amount, fee, timestamp))
	return h.Hex()
}

// NewCoinbase builds the block-reward transaction paying to.
func NewCoinbase(to string, amount uint64, timestamp int64) *Transaction {
	tx := &Transaction{
		ToAddress: to,
		Amount:    amount,
		Fee:       0,
		Timestamp: timestamp,
	}
	tx.TxID = computeID(tx.FromAddress, tx.ToAddress, tx.Amount, tx.Fee, tx.Timestamp)
	return tx
}

// NewTransfer builds an unsigned transfer. Call Sign before broadcasting.
func NewTransfer(from, to string, amount, fee uint64, timestamp int64) (*Transaction, error) {
	if amount == 0 {
		return nil, errors.Wrap(ErrMalformed, "chain: transfer amount must be positive")
	}
	if wallet.AddressesEqual(from, to) {
		return nil, errors.Wrap(ErrMalformed, "chain: from and to address must differ")
	}
	tx := &Transaction{
		FromAddress: from,
		ToAddress:   to,
		Amount:      amount,
		Fee:         fee,
		Timestamp:   timestamp,
	}
	tx.TxID = computeID(tx.FromAddress, tx.ToAddress, tx.Amount, tx.Fee, tx.Timestamp)
	return tx, nil
}

// Sign signs the transaction's id with priv. Coinbase transactions cannot be
// signed; the tx_id is unaffected since it was derived before signing.
func (tx *Transaction) Sign(priv *crypto.PrivateKey) error {
	if tx.IsCoinbase() {
		return errors.New("chain: cannot sign a coinbase transaction")
	}
	idHash, err := crypto.HashFromHex(tx.TxID)
	if err != nil {
		return errors.Wrap(err, "chain: decode tx id for signing")
	}
	sig, err := crypto.Sign(priv, idHash)
	if err != nil {
		return errors.Wrap(err, "chain: sign transaction")
	}
	wire := toWireSignature(sig)
	tx.Signature = &wire
	return nil
}

// IsValid reports whether tx satisfies every transaction invariant.
func (tx *Transaction) IsValid() bool {
	if tx.IsCoinbase() {
		return tx.Amount > 0 && tx.Signature == nil
	}

	if tx.Amount == 0 {
		return false
	}
	if wallet.AddressesEqual(tx.FromAddress, tx.ToAddress) {
		return false
	}
	if !wallet.IsValidAddress(tx.FromAddress) || !wallet.IsValidAddress(tx.ToAddress) {
		return false
	}
	if tx.Signature == nil {
		return false
	}

	expectedID := computeID(tx.FromAddress, tx.ToAddress, tx.Amount, tx.Fee, tx.Timestamp)
	if expectedID != tx.TxID {
		return false
	}

	idHash, err := crypto.HashFromHex(tx.TxID)
	if err != nil {
		return false
	}
	sig, err := tx.Signature.toCryptoSignature()
	if err != nil {
		return false
	}
	pub, err := crypto.Recover(sig, idHash)
	if err != nil {
		return false
	}
	recoveredAddr := wallet.AddressFromPublicKey(pub)
	return wallet.AddressesEqual(recoveredAddr, tx.FromAddress)
}

// Validate is IsValid but returns the specific taxonomy error on failure,
// for callers (mempool admission, the API boundary) that need to report why.
func (tx *Transaction) Validate() error {
	if tx.IsCoinbase() {
		if tx.Amount == 0 {
			return errors.Wrap(ErrMalformed, "chain: coinbase amount must be positive")
		}
		return nil
	}
	if tx.Amount == 0 {
		return errors.Wrap(ErrMalformed, "chain: amount must be positive")
	}
	if wallet.AddressesEqual(tx.FromAddress, tx.ToAddress) {
		return errors.Wrap(ErrMalformed, "chain: from and to address must differ")
	}
	if !wallet.IsValidAddress(tx.FromAddress) || !wallet.IsValidAddress(tx.ToAddress) {
		return errors.Wrap(ErrMalformed, "chain: malformed address")
	}
	if tx.Signature == nil {
		return errors.Wrap(ErrMalformed, "chain: missing signature")
	}
	if !tx.IsValid() {
		return ErrInvalidSignature
	}
	return nil
}

// Clone returns a deep copy of tx, used anywhere a caller must not be able
// to mutate a transaction living in the mempool or the chain.
func (tx *Transaction) Clone() *Transaction {
	clone := *tx
	if tx.Signature != nil {
		sig := *tx.Signature
		clone.Signature = &sig
	}
	return &clone
}
