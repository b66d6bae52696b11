// Package wallet handles keypair generation and address derivation.
package wallet

import (
	`regexp`
	`strings`

	`cosmochain/crypto`

	`github.com/pkg/errors`
)

// AddressPrefix is prepended to every derived address.
const AddressPrefix = "cosmos"

// addressHexLen is the number of hex characters kept from the
// ripemd160(sha256(pubkey)) digest (20 bytes == 40 hex chars).
const addressHexLen = 40

var addressPattern = regexp.MustCompile(`^cosmos[0-9a-f]{40}$`)

// KeyPair is a secp256k1 private/public key pair.
type KeyPair struct {
	Private *crypto.PrivateKey
	Public  *crypto.PublicKey
}

// Generate produces a new uniformly random key pair.
func Generate() (*KeyPair, error) {
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "wallet: generate key pair")
	}
	return &KeyPair{Private: priv, Public: priv.PublicKey()}, nil
}

// Address derives the cosmos-prefixed address for kp's public key.
func (kp *KeyPair) Address() string {
	return AddressFromPublicKey(kp.Public)
}

// AddressFromPublicKey derives an address from a bare public key.
func AddressFromPublicKey(pub *crypto.PublicKey) string {
	shaDigest := crypto.Sha256(pub.Bytes())
	pubKeyHash := crypto.Ripemd160(shaDigest.Bytes())
	hexDigest := crypto.EncodeHex(pubKeyHash)
	if len(hexDigest) > addressHexLen {
		hexDigest = hexDigest[:addressHexLen]
	}
	return AddressPrefix + hexDigest
}

// IsValidAddress reports whether s matches the exact address grammar.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// AddressesEqual compares two addresses case-insensitively on the hex tail.
func AddressesEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}
