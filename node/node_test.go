package node

import (
	`path/filepath`
	`testing`
	`time`

	`cosmochain/chain`
	`cosmochain/config`
	`cosmochain/wallet`

	`github.com/stretchr/testify/require`
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		NodeID:       `test-node`,
		SnapshotPath: filepath.Join(t.TempDir(), `snapshot.json`),
		Difficulty:   1,
		MiningReward: 50,
	}
}

func TestNewBootstrapsGenesisCreditingMiner(t *testing.T) {
	n, err := New(testConfig(t), nil)
	require.NoError(t, err)

	require.Equal(t, uint64(0), n.Chain().Height())
	require.Equal(t, uint64(500), n.Balance(n.MinerAddress())) // 10x mining reward
}

func TestSubmitTransactionAdmitsToMempool(t *testing.T) {
	n, err := New(testConfig(t), nil)
	require.NoError(t, err)

	receiver, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := chain.NewTransfer(n.MinerAddress(), receiver.Address(), 10, 1, time.Now().UnixMilli())
	require.NoError(t, err)
	require.NoError(t, tx.Sign(n.minerKey))

	require.NoError(t, n.SubmitTransaction(tx))

	result := n.TransactionByID(tx.TxID)
	require.Equal(t, TransactionStatusPending, result.Status)
}

func TestSubmitTransactionRejectsInvalid(t *testing.T) {
	n, err := New(testConfig(t), nil)
	require.NoError(t, err)

	receiver, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := chain.NewTransfer(n.MinerAddress(), receiver.Address(), 10_000_000, 0, time.Now().UnixMilli())
	require.NoError(t, err)
	require.NoError(t, tx.Sign(n.minerKey))

	require.Error(t, n.SubmitTransaction(tx))
}

func TestMiningEndToEndConfirmsTransactionAndUpdatesBalances(t *testing.T) {
	n, err := New(testConfig(t), nil)
	require.NoError(t, err)

	receiver, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := chain.NewTransfer(n.MinerAddress(), receiver.Address(), 100, 1, time.Now().UnixMilli())
	require.NoError(t, err)
	require.NoError(t, tx.Sign(n.minerKey))
	require.NoError(t, n.SubmitTransaction(tx))

	require.NoError(t, n.StartMining())

	require.Eventually(t, func() bool {
		return n.Chain().Height() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, uint64(100), n.Balance(receiver.Address()))
	result := n.TransactionByID(tx.TxID)
	require.Equal(t, TransactionStatusConfirmed, result.Status)
	require.Equal(t, uint64(0), result.Confirmations)
}

func TestBlockQueries(t *testing.T) {
	n, err := New(testConfig(t), nil)
	require.NoError(t, err)

	latest := n.LatestBlock()
	require.Equal(t, uint64(0), latest.Index)

	byHeight, ok := n.BlockByHeight(0)
	require.True(t, ok)
	require.Equal(t, latest.Hash, byHeight.Hash)

	byHash, ok := n.BlockByHash(latest.Hash)
	require.True(t, ok)
	require.Equal(t, latest.Index, byHash.Index)

	page, hasMore := n.BlockRange(0, 10)
	require.Len(t, page, 1)
	require.False(t, hasMore)
}

func TestStatusReflectsEngineAndMempoolState(t *testing.T) {
	n, err := New(testConfig(t), nil)
	require.NoError(t, err)

	receiver, err := wallet.Generate()
	require.NoError(t, err)
	tx, err := chain.NewTransfer(n.MinerAddress(), receiver.Address(), 10, 1, time.Now().UnixMilli())
	require.NoError(t, err)
	require.NoError(t, tx.Sign(n.minerKey))
	require.NoError(t, n.SubmitTransaction(tx))

	status := n.Status()
	require.False(t, status.IsActive)
	require.Equal(t, 1, status.PendingTxCount)
	require.Equal(t, 1, status.CurrentDifficulty)
}

func TestTransactionByIDNotFound(t *testing.T) {
	n, err := New(testConfig(t), nil)
	require.NoError(t, err)

	result := n.TransactionByID(`does-not-exist`)
	require.Equal(t, TransactionStatusNotFound, result.Status)
}
