// Package node wires the crypto, chain, mempool, mining, and gossip
// packages into the single owning structure a running process drives — a
// thin set of methods on Node, backed by components that already
// serialize their own mutations.
package node

import (
	`time`

	`cosmochain/chain`
	`cosmochain/config`
	`cosmochain/crypto`
	`cosmochain/mempool`
	`cosmochain/mining`
	`cosmochain/p2p`
	`cosmochain/snapshot`
	`cosmochain/wallet`

	`github.com/pkg/errors`
	`go.uber.org/zap`
)

// Node is the single structure owning a blockchain node's state. There is
// exactly one per running process; nothing here is a package-level
// singleton.
type Node struct {
	cfg *config.Config
	log *zap.SugaredLogger

	chain  *chain.Chain
	pool   *mempool.Pool
	engine *mining.Engine
	gossip *p2p.Server

	minerKey     *crypto.PrivateKey
	minerAddress string
}

// New loads (or bootstraps) a node's snapshot and wires up its chain,
// mempool, mining engine, and gossip server.
func New(cfg *config.Config, log *zap.SugaredLogger) (*Node, error) {
	snap, priv, err := snapshot.LoadOrBootstrap(cfg.SnapshotPath, cfg.Difficulty, cfg.MiningReward)
	if err != nil {
		return nil, errors.Wrap(err, "node: load snapshot")
	}
	if len(snap.Chain) == 0 {
		return nil, errors.New("node: snapshot has no genesis block")
	}

	c, err := chain.NewChain(snap.Chain[0], snap.Difficulty)
	if err != nil {
		return nil, errors.Wrap(err, "node: rebuild chain from snapshot")
	}
	for _, b := range snap.Chain[1:] {
		if err := c.Append(b); err != nil {
			return nil, errors.Wrap(err, "node: replay snapshot block")
		}
	}

	cfg.MiningReward = snap.MiningReward
	pool := mempool.New()
	minerAddress := wallet.AddressFromPublicKey(priv.PublicKey())
	engine := mining.New(c, pool, minerAddress, snap.MiningReward, log)
	gossip := p2p.New(cfg.NodeID, c, pool, log)

	n := &Node{
		cfg:          cfg,
		log:          log,
		chain:        c,
		pool:         pool,
		engine:       engine,
		gossip:       gossip,
		minerKey:     priv,
		minerAddress: minerAddress,
	}

	gossip.OnTransaction(n.admitTransaction)
	gossip.OnBlock(n.admitGossipedBlock)
	engine.OnBlockMined(n.handleBlockMined)

	return n, nil
}

// MinerAddress returns this node's mining payout address.
func (n *Node) MinerAddress() string {
	return n.minerAddress
}

// Chain exposes the underlying chain for read-only inspection (block
// explorer style endpoints, tests).
func (n *Node) Chain() *chain.Chain {
	return n.chain
}

// Gossip exposes the underlying gossip server, e.g. so an HTTP mux can
// register it for websocket upgrades.
func (n *Node) Gossip() *p2p.Server {
	return n.gossip
}

// ConnectPeer dials addr and begins gossiping with it, then asks it (and
// every other connected peer) for their latest block.
func (n *Node) ConnectPeer(addr string) error {
	if err := n.gossip.Dial(addr); err != nil {
		return err
	}
	n.gossip.Synchronize()
	return nil
}

// PeerCount returns the number of currently connected gossip peers.
func (n *Node) PeerCount() int {
	return n.gossip.PeerCount()
}

// SubmitTransaction validates tx, admits it to the mempool, and gossips it
// to connected peers.
func (n *Node) SubmitTransaction(tx *chain.Transaction) error {
	if err := n.admitTransaction(tx); err != nil {
		return err
	}
	n.gossip.BroadcastTransaction(tx)
	return nil
}

// admitTransaction is the shared validation path for both locally
// submitted and gossiped transactions.
func (n *Node) admitTransaction(tx *chain.Transaction) error {
	return n.pool.Add(tx, n.chain.Ledger())
}

// admitGossipedBlock tries to fold an unsolicited block from a peer onto
// the tip. If it doesn't extend the tip directly, the caller (p2p) will
// fall back to requesting the peer's full chain for a replace().
func (n *Node) admitGossipedBlock(b *chain.Block) error {
	if err := n.chain.Append(b); err != nil {
		return err
	}
	n.pool.RemoveMined(b)
	n.persistSnapshot()
	return nil
}

// handleBlockMined is invoked by the mining engine after it successfully
// appends a block it mined itself.
func (n *Node) handleBlockMined(b *chain.Block) {
	n.persistSnapshot()
	n.gossip.BroadcastBlock(b)
}

func (n *Node) persistSnapshot() {
	snap := &snapshot.Snapshot{
		Chain:        n.chain.Blocks(),
		Difficulty:   n.chain.Difficulty(),
		MiningReward: n.MiningReward(),
		MinerKey:     crypto.EncodeHex(n.minerKey.Bytes()),
		Timestamp:    time.Now().UnixMilli(),
	}
	if err := snapshot.Save(n.cfg.SnapshotPath, snap); err != nil && n.log != nil {
		n.log.Errorw("failed to persist snapshot", "error", err)
	}
}

// StartMining starts the mining engine.
func (n *Node) StartMining() error {
	return n.engine.Start()
}

// StopMining requests the mining engine stop.
func (n *Node) StopMining() {
	n.engine.Stop()
}

// SetDifficulty overrides the chain's mining difficulty.
func (n *Node) SetDifficulty(d int) {
	n.engine.SetDifficulty(d)
}

// MiningReward returns the engine's current coinbase base reward.
func (n *Node) MiningReward() uint64 {
	return n.cfg.MiningReward
}

// SetMiningReward overrides the coinbase base reward used by future
// candidate blocks.
func (n *Node) SetMiningReward(reward uint64) {
	n.cfg.MiningReward = reward
	n.engine.SetReward(reward)
}

// ResetMiningStatistics zeroes the mining engine's counters.
func (n *Node) ResetMiningStatistics() {
	n.engine.ResetStatistics()
}

// MiningState reports the mining engine's current state.
func (n *Node) MiningState() mining.State {
	return n.engine.State()
}

// MiningStatistics returns a snapshot of the mining engine's counters.
func (n *Node) MiningStatistics() mining.Statistics {
	return n.engine.Statistics()
}

// MiningStatus is the composed answer to an external status() query.
type MiningStatus struct {
	IsActive          bool   `json:"is_active"`
	CurrentDifficulty int    `json:"current_difficulty"`
	HashRate          float64 `json:"hash_rate"`
	BlocksMined       uint64 `json:"blocks_mined"`
	UptimeMs          int64  `json:"uptime_ms"`
	PendingTxCount    int    `json:"pending_tx_count"`
}

// Status returns the composed mining/node status the external API exposes.
func (n *Node) Status() MiningStatus {
	stats := n.engine.Statistics()
	return MiningStatus{
		IsActive:          n.engine.State() == mining.StateMining,
		CurrentDifficulty: n.chain.Difficulty(),
		HashRate:          stats.HashRate(),
		BlocksMined:       stats.BlocksMined,
		UptimeMs:          stats.Uptime().Milliseconds(),
		PendingTxCount:    n.pool.Size(),
	}
}

// LatestBlock returns the chain's tip.
func (n *Node) LatestBlock() *chain.Block {
	return n.chain.Tip()
}

// BlockByHeight returns the block at the given height.
func (n *Node) BlockByHeight(height uint64) (*chain.Block, bool) {
	return n.chain.BlockByHeight(height)
}

// BlockByHash returns the block with the given hash.
func (n *Node) BlockByHash(hash string) (*chain.Block, bool) {
	return n.chain.BlockByHash(hash)
}

// BlockRange returns a page of blocks starting at offset, bounded by
// limit, plus whether more blocks exist beyond the page.
func (n *Node) BlockRange(offset, limit int) ([]*chain.Block, bool) {
	return n.chain.Range(offset, limit)
}

// TransactionStatus describes where a looked-up transaction was found.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusConfirmed  TransactionStatus = "confirmed"
	TransactionStatusNotFound   TransactionStatus = "not_found"
)

// TransactionResult is the answer to a transaction lookup by id.
type TransactionResult struct {
	Transaction   *chain.Transaction
	Status        TransactionStatus
	Confirmations uint64
}

// TransactionByID searches the mempool first, then the chain, for txID.
func (n *Node) TransactionByID(txID string) TransactionResult {
	if tx, ok := n.pool.Get(txID); ok {
		return TransactionResult{Transaction: tx, Status: TransactionStatusPending}
	}
	if tx, _, confirmations, ok := n.chain.FindTransaction(txID); ok {
		return TransactionResult{Transaction: tx, Status: TransactionStatusConfirmed, Confirmations: confirmations}
	}
	return TransactionResult{Status: TransactionStatusNotFound}
}

// Balance returns address's spendable balance per the current ledger.
func (n *Node) Balance(address string) uint64 {
	return n.chain.Ledger().Balance(address)
}
