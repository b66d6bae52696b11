package chain

import (
	`cosmochain/crypto`
)

// MerkleRoot computes the Merkle root of txIDs (hex transaction ids), where
// an odd layer duplicates its last element before hashing pairs together.
// An empty input yields the zero hash.
func MerkleRoot(txIDs []string) string {
	if len(txIDs) == 0 {
		var zero crypto.Hash
		return zero.Hex()
	}

	layer := make([][]byte, len(txIDs))
	for i, id := range txIDs {
		b, err := crypto.DecodeHex(id)
		if err != nil {
			b = []byte(id)
		}
		layer[i] = b
	}

	for len(layer) > 1 {
		if len(layer)%2 != 0 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := make([][]byte, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			combined := append(append([]byte{}, layer[i]...), layer[i+1]...)
			h := crypto.Sha256(combined)
			next = append(next, h.Bytes())
		}
		layer = next
	}

	return crypto.EncodeHex(layer[0])
}
