// Package snapshot loads and atomically persists a node's entire durable
// state — chain, difficulty, mining reward, and miner identity — as a
// single JSON file.
package snapshot

import (
	`encoding/json`
	`os`
	`path/filepath`
	`time`

	`cosmochain/chain`
	`cosmochain/crypto`
	`cosmochain/wallet`

	`github.com/pkg/errors`
)

// GenesisRewardMultiple is how many mining rewards the genesis coinbase
// credits to a freshly generated miner identity.
const GenesisRewardMultiple = 10

// Snapshot is the single-file durable representation of a node.
type Snapshot struct {
	Chain        []*chain.Block `json:"chain"`
	Difficulty   int            `json:"difficulty"`
	MiningReward uint64         `json:"mining_reward"`
	MinerKey     string         `json:"miner_key"`
	Timestamp    int64          `json:"timestamp"`
}

// Load reads and parses the snapshot file at path.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot: read")
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "snapshot: decode")
	}
	return &snap, nil
}

// Save writes snap to path atomically: it writes to a temp file in the
// same directory and renames it into place, so a crash mid-write never
// leaves a truncated snapshot behind.
func Save(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "snapshot: encode")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return errors.Wrap(err, "snapshot: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "snapshot: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "snapshot: close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "snapshot: rename into place")
	}
	return nil
}

// Exists reports whether a snapshot file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadOrBootstrap loads an existing snapshot at path, or — if none exists
// — mints a fresh miner identity, builds a genesis block crediting it with
// GenesisRewardMultiple*miningReward, and persists that as the initial
// snapshot.
func LoadOrBootstrap(path string, difficulty int, miningReward uint64) (*Snapshot, *crypto.PrivateKey, error) {
	if Exists(path) {
		snap, err := Load(path)
		if err != nil {
			return nil, nil, err
		}
		keyBytes, err := crypto.DecodeHex(snap.MinerKey)
		if err != nil {
			return nil, nil, errors.Wrap(err, "snapshot: decode miner key")
		}
		priv, err := crypto.PrivateKeyFromBytes(keyBytes)
		if err != nil {
			return nil, nil, errors.Wrap(err, "snapshot: parse miner key")
		}
		return snap, priv, nil
	}

	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, nil, errors.Wrap(err, "snapshot: generate miner key")
	}
	minerAddress := wallet.AddressFromPublicKey(priv.PublicKey())

	now := time.Now().UnixMilli()
	coinbase := chain.NewCoinbase(minerAddress, GenesisRewardMultiple*miningReward, now)
	genesis := chain.NewGenesisBlock(coinbase, now)

	snap := &Snapshot{
		Chain:        []*chain.Block{genesis},
		Difficulty:   difficulty,
		MiningReward: miningReward,
		MinerKey:     crypto.EncodeHex(priv.Bytes()),
		Timestamp:    now,
	}
	if err := Save(path, snap); err != nil {
		return nil, nil, err
	}
	return snap, priv, nil
}
