package chain_test

import (
	`context`
	`encoding/json`
	`strings`
	`testing`
	`time`

	`cosmochain/chain`
	`cosmochain/wallet`

	`github.com/stretchr/testify/require`
)

func TestNewGenesisBlockHasNoProofOfWorkRequirement(t *testing.T) {
	miner, err := wallet.Generate()
	require.NoError(t, err)

	coinbase := chain.NewCoinbase(miner.Address(), 500, 1000)
	genesis := chain.NewGenesisBlock(coinbase, 1000)

	require.Equal(t, uint64(0), genesis.Index)
	require.Equal(t, `0`, genesis.PreviousHash)
	require.True(t, genesis.HasValidHash())
	require.True(t, genesis.HasValidMerkleRoot())
	require.True(t, genesis.HasValidTransactions())

	// a chain at the highest difficulty still starts from the unmined genesis
	_, err = chain.NewChain(genesis, chain.MaxDifficulty)
	require.NoError(t, err)
}

func TestMineProducesValidProofOfWork(t *testing.T) {
	miner, err := wallet.Generate()
	require.NoError(t, err)

	coinbase := chain.NewCoinbase(miner.Address(), 50, 2000)
	candidate := chain.NewCandidateBlock(1, `deadbeef`, []*chain.Transaction{coinbase}, 2000)

	err = candidate.Mine(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, candidate.HasValidHash())
	require.True(t, candidate.HasValidProofOfWork(2))
	require.True(t, strings.HasPrefix(candidate.Hash, `00`))
}

func TestMineRespectsCancellation(t *testing.T) {
	miner, err := wallet.Generate()
	require.NoError(t, err)

	coinbase := chain.NewCoinbase(miner.Address(), 50, 2000)
	candidate := chain.NewCandidateBlock(1, `deadbeef`, []*chain.Transaction{coinbase}, 2000)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// a difficulty this high will not be found before the timeout fires
	err = candidate.Mine(ctx, 64)
	require.Error(t, err)
}

func TestHasValidHashDetectsTampering(t *testing.T) {
	miner, err := wallet.Generate()
	require.NoError(t, err)

	coinbase := chain.NewCoinbase(miner.Address(), 50, 2000)
	genesis := chain.NewGenesisBlock(coinbase, 2000)
	require.True(t, genesis.HasValidHash())

	genesis.Timestamp++
	require.False(t, genesis.HasValidHash())
}

func TestHasValidMerkleRootDetectsTamperedTransactions(t *testing.T) {
	miner, err := wallet.Generate()
	require.NoError(t, err)
	other, err := wallet.Generate()
	require.NoError(t, err)

	coinbase := chain.NewCoinbase(miner.Address(), 50, 2000)
	transfer, err := chain.NewTransfer(miner.Address(), other.Address(), 5, 0, 2000)
	require.NoError(t, err)
	require.NoError(t, transfer.Sign(miner.Private))

	block := chain.NewCandidateBlock(1, `deadbeef`, []*chain.Transaction{coinbase, transfer}, 2000)
	require.True(t, block.HasValidMerkleRoot())

	block.Transactions = block.Transactions[:1]
	require.False(t, block.HasValidMerkleRoot())
}

func TestHasValidProofOfWorkZeroDifficultyAlwaysPasses(t *testing.T) {
	miner, err := wallet.Generate()
	require.NoError(t, err)
	coinbase := chain.NewCoinbase(miner.Address(), 50, 2000)
	genesis := chain.NewGenesisBlock(coinbase, 2000)
	require.True(t, genesis.HasValidProofOfWork(0))
}

func TestBlockJSONRoundTrip(t *testing.T) {
	miner, err := wallet.Generate()
	require.NoError(t, err)

	coinbase := chain.NewCoinbase(miner.Address(), 50, 2000)
	candidate := chain.NewCandidateBlock(1, `deadbeef`, []*chain.Transaction{coinbase}, 2000)
	require.NoError(t, candidate.Mine(context.Background(), 1))

	raw, err := json.Marshal(candidate)
	require.NoError(t, err)

	var roundTripped chain.Block
	require.NoError(t, json.Unmarshal(raw, &roundTripped))

	require.Equal(t, *candidate, roundTripped)
	require.True(t, roundTripped.HasValidHash())
	require.True(t, roundTripped.HasValidMerkleRoot())
}
