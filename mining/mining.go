// Package mining implements the proof-of-work engine that assembles
// candidate blocks from the mempool, mines them, and folds successes back
// into the chain.
package mining

import (
	`context`
	`sync`
	`time`

	`cosmochain/chain`
	`cosmochain/mempool`

	`github.com/pkg/errors`
	`go.uber.org/zap`
)

// State is one step of the mining state machine (Stopped -> Starting ->
// Mining -> Stopping -> Stopped).
type State int

const (
	StateStopped State = iota
	StateStarting
	StateMining
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateMining:
		return "mining"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MaxTransactionsPerBlock bounds how many transactions, including the
// mandatory coinbase, a candidate block may carry — leaving room for up to
// 99 selected mempool transactions alongside it.
const MaxTransactionsPerBlock = 100

var (
	// ErrAlreadyMining is returned by Start when the engine is not idle.
	ErrAlreadyMining = errors.New("mining: already mining")
	// ErrEmptyMempool is returned by Start when there is nothing to mine.
	ErrEmptyMempool = errors.New("mining: mempool is empty")
)

// Statistics is a point-in-time snapshot of the engine's counters.
type Statistics struct {
	TotalHashes      uint64
	BlocksMined      uint64
	StartedAt        time.Time
	LastBlockAt      time.Time
	TotalBlockTimeMs int64
}

// HashRate returns hashes/second since StartedAt.
func (s Statistics) HashRate() float64 {
	uptime := s.Uptime()
	if uptime <= 0 {
		return 0
	}
	return float64(s.TotalHashes) / uptime.Seconds()
}

// AverageBlockTimeMs returns the mean interval, in milliseconds, between
// consecutively mined blocks. Zero until at least two blocks have been
// mined in this run.
func (s Statistics) AverageBlockTimeMs() float64 {
	if s.BlocksMined < 2 {
		return 0
	}
	return float64(s.TotalBlockTimeMs) / float64(s.BlocksMined-1)
}

// Uptime returns how long the engine has been running this session.
func (s Statistics) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}

// Engine drives the mine-select-append loop for one node. All mutable
// fields are guarded by mu; the mining loop itself runs in its own
// goroutine, coordinating with the owning node only through chain and pool
// (which have their own internal synchronization) and the onBlockMined
// callback.
type Engine struct {
	mu sync.Mutex

	chain *chain.Chain
	pool  *mempool.Pool
	log   *zap.SugaredLogger

	minerAddress string
	baseReward   uint64

	state  State
	cancel context.CancelFunc
	stats  Statistics

	onBlockMined func(*chain.Block)
}

// New returns an idle engine that will credit minerAddress with baseReward
// (plus collected fees) in every block it mines.
func New(c *chain.Chain, pool *mempool.Pool, minerAddress string, baseReward uint64, log *zap.SugaredLogger) *Engine {
	return &Engine{
		chain:        c,
		pool:         pool,
		log:          log,
		minerAddress: minerAddress,
		baseReward:   baseReward,
	}
}

// OnBlockMined registers a callback invoked, from the mining goroutine,
// every time a block is successfully appended. Typically wired by the
// owning node to persist a snapshot and gossip the new block.
func (e *Engine) OnBlockMined(fn func(*chain.Block)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onBlockMined = fn
}

// State reports the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Statistics returns a snapshot of the engine's counters.
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// ResetStatistics zeroes the engine's counters without affecting whether
// it is currently mining.
func (e *Engine) ResetStatistics() {
	e.mu.Lock()
	defer e.mu.Unlock()
	started := e.stats.StartedAt
	e.stats = Statistics{}
	if e.state == StateMining {
		e.stats.StartedAt = started
	}
}

// SetDifficulty updates the chain's difficulty. Since the running loop
// reads the current difficulty fresh for each candidate, this takes
// effect starting with the next block, never the one already being mined.
func (e *Engine) SetDifficulty(d int) {
	e.chain.SetDifficulty(d)
}

// SetReward updates the coinbase base reward used by future candidates.
func (e *Engine) SetReward(reward uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseReward = reward
}

// Start transitions the engine from Stopped to Mining and launches the
// mining loop in a new goroutine. It refuses to start if already mining
// or if the mempool has nothing to include in the first candidate.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return ErrAlreadyMining
	}
	if e.pool.Size() == 0 {
		e.mu.Unlock()
		return ErrEmptyMempool
	}
	e.state = StateStarting
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.stats.StartedAt = time.Now()
	e.state = StateMining
	e.mu.Unlock()

	go e.run(ctx)
	return nil
}

// Stop requests the mining loop halt, transitioning Mining -> Stopping.
// The loop observes cancellation within yieldInterval attempts and then
// sets the state to Stopped itself.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateMining {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (e *Engine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.finishStopped()
			return
		default:
		}

		if e.pool.Size() == 0 {
			e.finishStopped()
			return
		}

		tip := e.chain.Tip()
		difficulty := e.chain.Difficulty()
		reward, selected := e.assembleReward()
		timestamp := time.Now().UnixMilli()
		coinbase := chain.NewCoinbase(e.minerAddress, reward, timestamp)
		txs := append([]*chain.Transaction{coinbase}, selected...)
		candidate := chain.NewCandidateBlock(tip.Index+1, tip.Hash, txs, timestamp)

		if err := candidate.Mine(ctx, difficulty); err != nil {
			e.finishStopped()
			return
		}

		e.recordHashes(candidate)

		if candidate.PreviousHash != e.chain.Tip().Hash {
			if e.log != nil {
				e.log.Debugw("discarding stale candidate, tip advanced while mining", "index", candidate.Index)
			}
			continue
		}
		if err := e.chain.Append(candidate); err != nil {
			if e.log != nil {
				e.log.Warnw("mined block rejected on append", "error", err)
			}
			continue
		}

		e.pool.RemoveMined(candidate)
		e.recordBlockMined(candidate)

		e.mu.Lock()
		cb := e.onBlockMined
		e.mu.Unlock()
		if cb != nil {
			cb(candidate)
		}
	}
}

// assembleReward selects transactions for the next candidate and returns
// the coinbase amount (base reward plus the sum of their fees).
func (e *Engine) assembleReward() (uint64, []*chain.Transaction) {
	e.mu.Lock()
	base := e.baseReward
	e.mu.Unlock()

	selected := e.pool.SelectForBlock(e.chain.Ledger(), MaxTransactionsPerBlock-1)
	reward := base
	for _, tx := range selected {
		reward += tx.Fee
	}
	return reward, selected
}

func (e *Engine) recordHashes(b *chain.Block) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.TotalHashes += b.Nonce + 1
}

func (e *Engine) recordBlockMined(b *chain.Block) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	if e.stats.BlocksMined > 0 && !e.stats.LastBlockAt.IsZero() {
		e.stats.TotalBlockTimeMs += now.Sub(e.stats.LastBlockAt).Milliseconds()
	}
	e.stats.BlocksMined++
	e.stats.LastBlockAt = now
}

func (e *Engine) finishStopped() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateStopped
	e.cancel = nil
}
