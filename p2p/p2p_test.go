package p2p_test

import (
	`context`
	`net/http`
	`net/http/httptest`
	`strings`
	`sync/atomic`
	`testing`
	`time`

	`cosmochain/chain`
	`cosmochain/mempool`
	`cosmochain/p2p`
	`cosmochain/wallet`

	`github.com/stretchr/testify/require`
)

func buildChain(t *testing.T, extraBlocks int) (*chain.Chain, *wallet.KeyPair) {
	t.Helper()
	miner, err := wallet.Generate()
	require.NoError(t, err)

	coinbase := chain.NewCoinbase(miner.Address(), 1000, 1000)
	genesis := chain.NewGenesisBlock(coinbase, 1000)
	c, err := chain.NewChain(genesis, 1)
	require.NoError(t, err)

	for i := 0; i < extraBlocks; i++ {
		tip := c.Tip()
		reward := chain.NewCoinbase(miner.Address(), 50, int64(2000+i))
		block := chain.NewCandidateBlock(tip.Index+1, tip.Hash, []*chain.Transaction{reward}, int64(2000+i))
		require.NoError(t, block.Mine(context.Background(), c.Difficulty()))
		require.NoError(t, c.Append(block))
	}
	return c, miner
}

func TestNewPeerSyncsChainFromPeerWithHigherHandshakeHeight(t *testing.T) {
	ahead, _ := buildChain(t, 3)
	behind, _ := buildChain(t, 0)

	serverSide := p2p.New(`node-ahead`, ahead, mempool.New(), nil)
	ts := httptest.NewServer(http.HandlerFunc(serverSide.ServeHTTP))
	defer ts.Close()

	clientSide := p2p.New(`node-behind`, behind, mempool.New(), nil)
	wsURL := `ws` + strings.TrimPrefix(ts.URL, `http`)
	require.NoError(t, clientSide.Dial(wsURL))

	require.Eventually(t, func() bool {
		return behind.Height() == ahead.Height()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBroadcastTransactionDeliversToConnectedPeer(t *testing.T) {
	c1, miner := buildChain(t, 0)
	c2, _ := buildChain(t, 0)

	serverSide := p2p.New(`node-a`, c1, mempool.New(), nil)
	ts := httptest.NewServer(http.HandlerFunc(serverSide.ServeHTTP))
	defer ts.Close()

	pool2 := mempool.New()
	clientSide := p2p.New(`node-b`, c2, pool2, nil)
	received := make(chan *chain.Transaction, 1)
	clientSide.OnTransaction(func(tx *chain.Transaction) error {
		received <- tx
		return nil
	})

	wsURL := `ws` + strings.TrimPrefix(ts.URL, `http`)
	require.NoError(t, clientSide.Dial(wsURL))

	receiver, err := wallet.Generate()
	require.NoError(t, err)
	tx, err := chain.NewTransfer(miner.Address(), receiver.Address(), 10, 1, 5000)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(miner.Private))

	serverSide.BroadcastTransaction(tx)

	select {
	case got := <-received:
		require.Equal(t, tx.TxID, got.TxID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for gossiped transaction")
	}
}

func TestDuplicateBlockGossipIsDroppedSilently(t *testing.T) {
	a, miner := buildChain(t, 0)
	b, _ := buildChain(t, 0)

	var blockCount int32
	serverSide := p2p.New(`node-a`, a, mempool.New(), nil)
	serverSide.OnBlock(func(blk *chain.Block) error {
		atomic.AddInt32(&blockCount, 1)
		return a.Append(blk)
	})
	ts := httptest.NewServer(http.HandlerFunc(serverSide.ServeHTTP))
	defer ts.Close()

	clientSide := p2p.New(`node-b`, b, mempool.New(), nil)
	wsURL := `ws` + strings.TrimPrefix(ts.URL, `http`)
	require.NoError(t, clientSide.Dial(wsURL))

	tip := a.Tip()
	reward := chain.NewCoinbase(miner.Address(), 50, 9000)
	mined := chain.NewCandidateBlock(tip.Index+1, tip.Hash, []*chain.Transaction{reward}, 9000)
	require.NoError(t, mined.Mine(context.Background(), a.Difficulty()))

	// node-b gossips the mined block to node-a once, as if forwarding it
	// from a third peer, then forwards the identical block again as a
	// third peer might do after receiving it back from someone else.
	clientSide.BroadcastBlock(mined)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&blockCount) == 1
	}, 5*time.Second, 10*time.Millisecond)

	clientSide.BroadcastBlock(mined)
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&blockCount))
}

func TestPeerCountTracksConnections(t *testing.T) {
	c1, _ := buildChain(t, 0)
	c2, _ := buildChain(t, 0)

	serverSide := p2p.New(`node-a`, c1, mempool.New(), nil)
	ts := httptest.NewServer(http.HandlerFunc(serverSide.ServeHTTP))
	defer ts.Close()

	clientSide := p2p.New(`node-b`, c2, mempool.New(), nil)
	wsURL := `ws` + strings.TrimPrefix(ts.URL, `http`)
	require.NoError(t, clientSide.Dial(wsURL))

	require.Eventually(t, func() bool {
		return serverSide.PeerCount() == 1 && clientSide.PeerCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
}
