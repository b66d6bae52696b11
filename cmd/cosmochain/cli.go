package main

import (
	`flag`
	`fmt`
	`net/http`
	`os`
	`time`

	`cosmochain/chain`
	`cosmochain/config`
	`cosmochain/crypto`
	`cosmochain/node`
	`cosmochain/wallet`

	`go.uber.org/zap`
)

// CLI is the flag-based command dispatcher, one FlagSet per subcommand,
// in the style of the reference node's command-line entry point.
type CLI struct {
	log *zap.SugaredLogger
}

// NewCLI returns a dispatcher that logs through log.
func NewCLI(log *zap.SugaredLogger) *CLI {
	return &CLI{log: log}
}

func (c *CLI) printUsage() {
	fmt.Println(`Usage:`)
	fmt.Println(`  startnode [-mine]                                   start a node, optionally mining`)
	fmt.Println(`  createwallet                                        generate a new keypair and address`)
	fmt.Println(`  getbalance -address ADDRESS                         print an address's balance`)
	fmt.Println(`  send -key KEY -to ADDRESS -amount N [-fee N]        submit a signed transfer`)
	fmt.Println(`  printchain                                          print every block on the chain`)
	fmt.Println(`  status                                              print node and mining status`)
}

// Run dispatches args[1] to the matching subcommand.
func (c *CLI) Run(args []string) error {
	if len(args) < 2 {
		c.printUsage()
		os.Exit(1)
	}

	switch args[1] {
	case `startnode`:
		return c.startNode(args[2:])
	case `createwallet`:
		return c.createWallet(args[2:])
	case `getbalance`:
		return c.getBalance(args[2:])
	case `send`:
		return c.send(args[2:])
	case `printchain`:
		return c.printChain(args[2:])
	case `status`:
		return c.status(args[2:])
	default:
		c.printUsage()
		os.Exit(1)
	}
	return nil
}

func (c *CLI) loadNode() (*node.Node, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	n, err := node.New(cfg, c.log)
	if err != nil {
		return nil, nil, err
	}
	return n, cfg, nil
}

func (c *CLI) startNode(args []string) error {
	fs := flag.NewFlagSet(`startnode`, flag.ExitOnError)
	mine := fs.Bool(`mine`, false, `start mining immediately`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	n, cfg, err := c.loadNode()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(`/ws`, n.Gossip().ServeHTTP)
	go func() {
		addr := fmt.Sprintf(`:%d`, cfg.P2PPort)
		c.log.Infow("listening for peers", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			c.log.Fatalw("gossip listener failed", "error", err)
		}
	}()

	for _, peer := range cfg.PeerList() {
		if err := n.ConnectPeer(peer); err != nil {
			c.log.Warnw("failed to connect to peer", "peer", peer, "error", err)
		}
	}

	if *mine {
		if err := n.StartMining(); err != nil {
			c.log.Warnw("failed to start mining", "error", err)
		}
	}

	c.log.Infow("node started", "node_id", cfg.NodeID, "miner_address", n.MinerAddress())
	select {}
}

func (c *CLI) createWallet(args []string) error {
	kp, err := wallet.Generate()
	if err != nil {
		return err
	}
	fmt.Printf("address:     %s\n", kp.Address())
	fmt.Printf("private_key: %s\n", crypto.EncodeHex(kp.Private.Bytes()))
	return nil
}

func (c *CLI) getBalance(args []string) error {
	fs := flag.NewFlagSet(`getbalance`, flag.ExitOnError)
	address := fs.String(`address`, ``, `address to query`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !wallet.IsValidAddress(*address) {
		return fmt.Errorf("getbalance: invalid address %q", *address)
	}

	n, _, err := c.loadNode()
	if err != nil {
		return err
	}
	fmt.Printf("%d\n", n.Balance(*address))
	return nil
}

func (c *CLI) send(args []string) error {
	fs := flag.NewFlagSet(`send`, flag.ExitOnError)
	keyHex := fs.String(`key`, ``, `sender private key, hex-encoded`)
	to := fs.String(`to`, ``, `recipient address`)
	amount := fs.Uint64(`amount`, 0, `amount to transfer`)
	fee := fs.Uint64(`fee`, 0, `fee offered to the miner`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	keyBytes, err := crypto.DecodeHex(*keyHex)
	if err != nil {
		return fmt.Errorf("send: invalid key: %w", err)
	}
	priv, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return fmt.Errorf("send: invalid key: %w", err)
	}
	from := wallet.AddressFromPublicKey(priv.PublicKey())

	tx, err := chain.NewTransfer(from, *to, *amount, *fee, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if err := tx.Sign(priv); err != nil {
		return err
	}

	n, _, err := c.loadNode()
	if err != nil {
		return err
	}
	if err := n.SubmitTransaction(tx); err != nil {
		return err
	}
	fmt.Printf("tx_id: %s\n", tx.TxID)
	return nil
}

func (c *CLI) printChain(args []string) error {
	n, _, err := c.loadNode()
	if err != nil {
		return err
	}
	for _, b := range n.Chain().Blocks() {
		fmt.Printf("#%d %s (prev %s, %d tx)\n", b.Index, b.Hash, b.PreviousHash, len(b.Transactions))
	}
	return nil
}

func (c *CLI) status(args []string) error {
	n, cfg, err := c.loadNode()
	if err != nil {
		return err
	}
	status := n.Status()
	fmt.Printf("node_id:            %s\n", cfg.NodeID)
	fmt.Printf("height:             %d\n", n.Chain().Height())
	fmt.Printf("is_active:          %t\n", status.IsActive)
	fmt.Printf("current_difficulty: %d\n", status.CurrentDifficulty)
	fmt.Printf("hash_rate:          %.2f\n", status.HashRate)
	fmt.Printf("blocks_mined:       %d\n", status.BlocksMined)
	fmt.Printf("uptime_ms:          %d\n", status.UptimeMs)
	fmt.Printf("pending_tx_count:   %d\n", status.PendingTxCount)
	fmt.Printf("peers:              %d\n", n.PeerCount())
	return nil
}
