// Package crypto implements the hashing, hex-codec and secp256k1
// sign/verify/recover primitives the rest of cosmochain is built on. It is
// the only package allowed to import the secp256k1 curve library directly.
package crypto

import (
	`crypto/sha256`
	`encoding/hex`

	`github.com/btcsuite/btcd/btcec/v2`
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	`github.com/pkg/errors`
	`golang.org/x/crypto/ripemd160`
)

// HashSize is the length in bytes of a Hash (sha256 digest).
const HashSize = 32

// Hash is a 32-byte sha256 digest.
type Hash [HashSize]byte

// Sha256 hashes data and returns the digest.
func Sha256(data []byte) Hash {
	return sha256.Sum256(data)
}

// Ripemd160 hashes data with RIPEMD-160 and returns the 20-byte digest.
func Ripemd160(data []byte) []byte {
	hasher := ripemd160.New()
	// ripemd160.New().Write never returns an error.
	_, _ = hasher.Write(data)
	return hasher.Sum(nil)
}

// Hex returns the lowercase hex encoding of h.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the raw digest bytes.
func (h Hash) Bytes() []byte {
	return h[:]
}

// HashFromHex decodes a 64-character lowercase hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, errors.Errorf("crypto: hash hex must be %d chars, got %d", HashSize*2, len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.Wrap(err, "crypto: decode hash hex")
	}
	copy(h[:], decoded)
	return h, nil
}

// EncodeHex is a thin wrapper kept for symmetry with DecodeHex.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex decodes a hex string into bytes.
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: decode hex")
	}
	return b, nil
}

// PrivateKey is a secp256k1 scalar.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// PublicKey is an uncompressed secp256k1 point.
type PublicKey struct {
	key *btcec.PublicKey
}

// GeneratePrivateKey draws a uniformly random scalar in [1, n) using the
// CSPRNG.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "crypto: generate private key")
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes decodes a 32-byte scalar into a PrivateKey.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, errors.Errorf("crypto: private key must be 32 bytes, got %d", len(b))
	}
	key, pub := btcec.PrivKeyFromBytes(b)
	_ = pub
	return &PrivateKey{key: key}, nil
}

// Bytes returns the raw 32-byte scalar.
func (p *PrivateKey) Bytes() []byte {
	return p.key.Serialize()
}

// PublicKey derives the uncompressed public key for p.
func (p *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: p.key.PubKey()}
}

// Bytes returns the 65-byte uncompressed SEC1 encoding of the public key.
func (p *PublicKey) Bytes() []byte {
	return p.key.SerializeUncompressed()
}

// PublicKeyFromBytes decodes an uncompressed (or compressed) SEC1 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	key, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: parse public key")
	}
	return &PublicKey{key: key}, nil
}

// Signature is a secp256k1 ECDSA signature with the recovery id preserved,
// so recovering the signer's public key back out is unambiguous.
type Signature struct {
	R          [32]byte
	S          [32]byte
	RecoveryID byte
}

// Sign produces a deterministic-nonce ECDSA signature over msgHash together
// with the recovery id needed to recover the public key later.
func Sign(priv *PrivateKey, msgHash Hash) (Signature, error) {
	compact := ecdsa.SignCompact(priv.key, msgHash[:], false)
	if len(compact) != 65 {
		return Signature{}, errors.Errorf("crypto: unexpected compact signature length %d", len(compact))
	}
	header := compact[0]
	recID := (header - 27) & ^byte(4)

	var sig Signature
	copy(sig.R[:], compact[1:33])
	copy(sig.S[:], compact[33:65])
	sig.RecoveryID = recID
	return sig, nil
}

// Recover recovers the public key that produced sig over msgHash.
func Recover(sig Signature, msgHash Hash) (*PublicKey, error) {
	compact := make([]byte, 65)
	compact[0] = 27 + sig.RecoveryID
	copy(compact[1:33], sig.R[:])
	copy(compact[33:65], sig.S[:])

	pub, _, err := ecdsa.RecoverCompact(compact, msgHash[:])
	if err != nil {
		return nil, errors.Wrap(err, "crypto: recover public key")
	}
	return &PublicKey{key: pub}, nil
}

// Verify checks that sig is a valid signature by pub over msgHash.
func Verify(pub *PublicKey, sig Signature, msgHash Hash) bool {
	recovered, err := Recover(sig, msgHash)
	if err != nil {
		return false
	}
	return recovered.key.IsEqual(pub.key)
}
