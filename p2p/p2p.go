// Package p2p implements JSON-framed peer gossip over a websocket duplex
// connection: handshake, chain sync, transaction/block broadcast, and
// heartbeat liveness checks.
package p2p

import (
	`encoding/json`
	`net/http`
	`sync`
	`time`

	`cosmochain/chain`
	`cosmochain/mempool`

	`github.com/google/uuid`
	`github.com/gorilla/websocket`
	`github.com/pkg/errors`
	`go.uber.org/zap`
)

// Message types exchanged between peers.
const (
	TypeHandshake      = `HANDSHAKE`
	TypeRequestChain    = `REQUEST_CHAIN`
	TypeReceiveChain    = `RECEIVE_CHAIN`
	TypeRequestLatest   = `REQUEST_LATEST`
	TypeReceiveLatest   = `RECEIVE_LATEST`
	TypeNewTransaction  = `NEW_TRANSACTION`
	TypeNewBlock        = `NEW_BLOCK`
	TypePing            = `PING`
	TypePong            = `PONG`
)

// HeartbeatInterval is how often a connected peer is pinged.
const HeartbeatInterval = 30 * time.Second

// HeartbeatTimeout is how long a peer may go without a pong before it is
// dropped.
const HeartbeatTimeout = 60 * time.Second

// Message is the wire envelope every frame is sent as.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// HandshakeData identifies a peer when a connection is first established.
type HandshakeData struct {
	NodeID      string `json:"node_id"`
	ChainHeight uint64 `json:"chain_height"`
}

// LatestData carries a single block, used both as the answer to
// REQUEST_LATEST and as the unsolicited tip announcement after a local
// block is mined.
type LatestData struct {
	Block *chain.Block `json:"block"`
}

// ChainData carries a full chain, sent in answer to REQUEST_CHAIN.
type ChainData struct {
	Blocks []*chain.Block `json:"blocks"`
}

// TransactionData carries a single gossiped transaction.
type TransactionData struct {
	Transaction *chain.Transaction `json:"transaction"`
}

func newMessage(msgType string, data interface{}) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, errors.Wrap(err, "p2p: encode message data")
	}
	return Message{Type: msgType, Data: raw, Timestamp: time.Now().UnixMilli()}, nil
}

// Peer is one connected duplex websocket link.
type Peer struct {
	ID       uuid.UUID
	NodeID   string
	conn     *websocket.Conn
	send     chan Message
	mu       sync.Mutex
	lastPong time.Time
	closed   bool
}

func newPeer(conn *websocket.Conn) *Peer {
	return &Peer{
		ID:       uuid.New(),
		conn:     conn,
		send:     make(chan Message, 64),
		lastPong: time.Now(),
	}
}

func (p *Peer) enqueue(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.send <- msg:
	default:
		// slow consumer; drop rather than block the gossip loop
	}
}

func (p *Peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
	p.conn.Close()
}

// Server owns every connected Peer plus the chain and mempool that inbound
// gossip reads from and writes to.
type Server struct {
	mu    sync.Mutex
	peers map[uuid.UUID]*Peer

	seenTx    map[string]bool
	seenBlock map[string]bool

	nodeID string
	chain  *chain.Chain
	pool   *mempool.Pool
	log    *zap.SugaredLogger

	upgrader websocket.Upgrader

	onTransaction func(*chain.Transaction) error
	onBlock       func(*chain.Block) error
}

// New returns a gossip server bound to c and pool.
func New(nodeID string, c *chain.Chain, pool *mempool.Pool, log *zap.SugaredLogger) *Server {
	return &Server{
		peers:     make(map[uuid.UUID]*Peer),
		seenTx:    make(map[string]bool),
		seenBlock: make(map[string]bool),
		nodeID:    nodeID,
		chain:     c,
		pool:      pool,
		log:       log,
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// OnTransaction registers the callback invoked when a gossiped transaction
// should be admitted to the local mempool.
func (s *Server) OnTransaction(fn func(*chain.Transaction) error) {
	s.onTransaction = fn
}

// OnBlock registers the callback invoked when a gossiped block should be
// appended (or considered for a chain replacement) locally.
func (s *Server) OnBlock(fn func(*chain.Block) error) {
	s.onBlock = fn
}

// ServeHTTP upgrades an inbound HTTP connection to a websocket peer
// connection and begins serving it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("websocket upgrade failed", "error", err)
		}
		return
	}
	s.serve(conn)
}

// Dial connects outward to a peer's gossip address and begins serving it.
func (s *Server) Dial(addr string) error {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return errors.Wrap(err, "p2p: dial peer")
	}
	s.serve(conn)
	return nil
}

func (s *Server) serve(conn *websocket.Conn) {
	peer := newPeer(conn)

	s.mu.Lock()
	s.peers[peer.ID] = peer
	s.mu.Unlock()

	go s.writeLoop(peer)
	go s.heartbeatLoop(peer)

	if err := s.handshake(peer); err != nil && s.log != nil {
		s.log.Debugw("handshake failed", "error", err)
	}

	go s.readLoop(peer)
}

func (s *Server) handshake(peer *Peer) error {
	msg, err := newMessage(TypeHandshake, HandshakeData{NodeID: s.nodeID, ChainHeight: s.chain.Height()})
	if err != nil {
		return err
	}
	peer.enqueue(msg)
	return nil
}

func (s *Server) writeLoop(peer *Peer) {
	for msg := range peer.send {
		if err := peer.conn.WriteJSON(msg); err != nil {
			if s.log != nil {
				s.log.Debugw("write to peer failed", "peer", peer.ID, "error", err)
			}
			s.drop(peer)
			return
		}
	}
}

func (s *Server) heartbeatLoop(peer *Peer) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		peer.mu.Lock()
		closed := peer.closed
		lastPong := peer.lastPong
		peer.mu.Unlock()
		if closed {
			return
		}
		if time.Since(lastPong) > HeartbeatTimeout {
			s.drop(peer)
			return
		}
		msg, err := newMessage(TypePing, struct{}{})
		if err != nil {
			continue
		}
		peer.enqueue(msg)
	}
}

func (s *Server) readLoop(peer *Peer) {
	defer s.drop(peer)
	for {
		var msg Message
		if err := peer.conn.ReadJSON(&msg); err != nil {
			return
		}
		if err := s.handle(peer, msg); err != nil && s.log != nil {
			s.log.Debugw("failed to handle peer message", "type", msg.Type, "error", err)
		}
	}
}

func (s *Server) handle(peer *Peer, msg Message) error {
	switch msg.Type {
	case TypeHandshake:
		var data HandshakeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return err
		}
		peer.NodeID = data.NodeID
		if data.ChainHeight > s.chain.Height() {
			return s.send(peer, TypeRequestChain, struct{}{})
		}
		return nil

	case TypePing:
		return s.send(peer, TypePong, struct{}{})

	case TypePong:
		peer.mu.Lock()
		peer.lastPong = time.Now()
		peer.mu.Unlock()
		return nil

	case TypeRequestLatest:
		return s.send(peer, TypeReceiveLatest, LatestData{Block: s.chain.Tip()})

	case TypeReceiveLatest:
		var data LatestData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return err
		}
		if data.Block != nil && data.Block.Index > s.chain.Height() {
			return s.send(peer, TypeRequestChain, struct{}{})
		}
		return nil

	case TypeRequestChain:
		return s.send(peer, TypeReceiveChain, ChainData{Blocks: s.chain.Blocks()})

	case TypeReceiveChain:
		var data ChainData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return err
		}
		replaced, err := s.chain.Replace(data.Blocks)
		if err != nil {
			return err
		}
		if replaced && s.log != nil {
			s.log.Infow("replaced local chain from peer", "peer", peer.ID, "height", s.chain.Height())
		}
		return nil

	case TypeNewTransaction:
		var data TransactionData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return err
		}
		if data.Transaction == nil || s.markTxSeen(data.Transaction.TxID) {
			return nil
		}
		if s.onTransaction != nil {
			if err := s.onTransaction(data.Transaction); err != nil {
				if s.log != nil && !errors.Is(err, mempool.ErrDuplicateTransaction) {
					s.log.Warnw("rejected gossiped transaction", "tx_id", data.Transaction.TxID, "error", err)
				}
				return nil
			}
		}
		s.broadcastExcept(peer, TypeNewTransaction, data)
		return nil

	case TypeNewBlock:
		var data LatestData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return err
		}
		if data.Block == nil || s.markBlockSeen(data.Block.Hash) {
			return nil
		}
		if s.onBlock != nil {
			if err := s.onBlock(data.Block); err != nil {
				return s.send(peer, TypeRequestChain, struct{}{})
			}
		}
		s.broadcastExcept(peer, TypeNewBlock, data)
		return nil

	default:
		return errors.Errorf("p2p: unknown message type %q", msg.Type)
	}
}

func (s *Server) markTxSeen(txID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenTx[txID] {
		return true
	}
	s.seenTx[txID] = true
	return false
}

func (s *Server) markBlockSeen(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenBlock[hash] {
		return true
	}
	s.seenBlock[hash] = true
	return false
}

func (s *Server) send(peer *Peer, msgType string, data interface{}) error {
	msg, err := newMessage(msgType, data)
	if err != nil {
		return err
	}
	peer.enqueue(msg)
	return nil
}

func (s *Server) drop(peer *Peer) {
	s.mu.Lock()
	_, ok := s.peers[peer.ID]
	delete(s.peers, peer.ID)
	s.mu.Unlock()
	if ok {
		peer.close()
	}
}

// PeerCount returns the number of currently connected peers.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// BroadcastTransaction gossips tx to every connected peer.
func (s *Server) BroadcastTransaction(tx *chain.Transaction) {
	s.markTxSeen(tx.TxID)
	msg, err := newMessage(TypeNewTransaction, TransactionData{Transaction: tx})
	if err != nil {
		return
	}
	s.broadcastAll(msg)
}

// BroadcastBlock gossips a newly mined block to every connected peer.
func (s *Server) BroadcastBlock(b *chain.Block) {
	s.markBlockSeen(b.Hash)
	msg, err := newMessage(TypeNewBlock, LatestData{Block: b})
	if err != nil {
		return
	}
	s.broadcastAll(msg)
}

func (s *Server) broadcastAll(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, peer := range s.peers {
		peer.enqueue(msg)
	}
}

func (s *Server) broadcastExcept(sender *Peer, msgType string, data interface{}) {
	msg, err := newMessage(msgType, data)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, peer := range s.peers {
		if id == sender.ID {
			continue
		}
		peer.enqueue(msg)
	}
}

// Synchronize asks every connected peer for their latest block, so a
// freshly started node can catch up to whichever peer is furthest ahead.
func (s *Server) Synchronize() {
	s.mu.Lock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		_ = s.send(p, TypeRequestLatest, struct{}{})
	}
}
