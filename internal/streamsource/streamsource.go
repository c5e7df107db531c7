// Package streamsource implements the default ports.StreamSource adapter:
// a websocket client against a cluster's pubsub endpoint, subscribing to
// logsSubscribe for each watched master wallet and resolving each
// notified signature into a full solwire.RawTransaction. The connection
// lifecycle (lazy dial, one read loop) follows the gorilla/websocket idiom
// the teacher uses server-side for its dashboard hub, adapted here to the
// client/dial direction Stream Ingress needs. There is no ping/keepalive;
// a read error drops the connection so the next Subscribe dials again,
// and the output channel stays open.
package streamsource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
	"github.com/copytrade/engine/pkg/logging"
)

// TransactionFetcher resolves a signature notified over the logs feed into
// its full transaction body. In production this is the Chain RPC client's
// GetTransaction; kept as a narrow interface here so streamsource does not
// need to depend on the whole ports.ChainRPC surface.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, sig solwire.Signature) (*solwire.RawTransaction, error)
}

// Source is the default websocket-backed StreamSource.
type Source struct {
	wsURL   string
	fetcher TransactionFetcher
	log     *logging.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	subIDs        map[string]int64 // master pubkey -> logsSubscribe subscription id
	nextRequestID atomic.Int64

	out    chan *solwire.RawTransaction
	closed chan struct{}
}

// New constructs a Source. Dial happens lazily on the first Subscribe.
func New(wsURL string, fetcher TransactionFetcher) *Source {
	return &Source{
		wsURL:   wsURL,
		fetcher: fetcher,
		log:     logging.GetDefault().Component("streamsource"),
		subIDs:  make(map[string]int64),
		out:     make(chan *solwire.RawTransaction, 1024),
		closed:  make(chan struct{}),
	}
}

var _ ports.StreamSource = (*Source)(nil)

func (s *Source) ensureConn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("streamsource: dial %s: %w", s.wsURL, err)
	}
	s.conn = conn
	go s.readPump()
	return nil
}

// Subscribe issues a logsSubscribe call for each master wallet's address
// (mentions filter) and returns the shared output channel; Stream Ingress
// multiplexes all masters onto this one channel per §4.1.
func (s *Source) Subscribe(ctx context.Context, masters []solwire.Pubkey) (<-chan *solwire.RawTransaction, error) {
	if err := s.ensureConn(); err != nil {
		return nil, err
	}
	for _, master := range masters {
		if err := s.subscribeOne(master); err != nil {
			return nil, err
		}
	}
	return s.out, nil
}

func (s *Source) subscribeOne(master solwire.Pubkey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subIDs[master.String()]; ok {
		return nil
	}
	id := s.nextRequestID.Add(1)
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "logsSubscribe",
		"params": []interface{}{
			map[string]interface{}{"mentions": []string{master.String()}},
			map[string]interface{}{"commitment": "confirmed"},
		},
	}
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("streamsource: logsSubscribe for %s: %w", master, err)
	}
	// The subscription id itself arrives asynchronously in the RPC
	// acknowledgement; readPump records it when it sees the matching
	// request id echoed back.
	s.subIDs[master.String()] = -id // negative sentinel until acked
	return nil
}

// Unsubscribe issues logsUnsubscribe for the given master, if a
// subscription id has been learned.
func (s *Source) Unsubscribe(ctx context.Context, master solwire.Pubkey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subID, ok := s.subIDs[master.String()]
	if !ok || subID < 0 {
		delete(s.subIDs, master.String())
		return nil
	}
	delete(s.subIDs, master.String())
	if s.conn == nil {
		return nil
	}
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      s.nextRequestID.Add(1),
		"method":  "logsUnsubscribe",
		"params":  []interface{}{subID},
	}
	return s.conn.WriteJSON(req)
}

// Close tears down the websocket connection.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

type logsNotificationJSON struct {
	Method string `json:"method"`
	Params struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Value struct {
				Signature string `json:"signature"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

type rpcAckJSON struct {
	ID     int64 `json:"id"`
	Result int64 `json:"result"`
}

func (s *Source) readPump() {
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Warn("stream source read error, connection lost", "error", err)
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			return
		}

		var ack rpcAckJSON
		if err := json.Unmarshal(message, &ack); err == nil && ack.ID != 0 {
			s.recordAck(ack)
			continue
		}

		var note logsNotificationJSON
		if err := json.Unmarshal(message, &note); err != nil || note.Method != "logsNotification" {
			continue
		}
		s.resolveAndEmit(note.Params.Result.Value.Signature)
	}
}

func (s *Source) recordAck(ack rpcAckJSON) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for master, pending := range s.subIDs {
		if pending == -ack.ID {
			s.subIDs[master] = ack.Result
			return
		}
	}
}

func (s *Source) resolveAndEmit(sigStr string) {
	if sigStr == "" {
		return
	}
	sig, err := solwire.SignatureFromBase58(sigStr)
	if err != nil {
		s.log.Warn("stream source: bad signature in notification", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tx, err := s.fetcher.GetTransaction(ctx, sig)
	if err != nil {
		s.log.Warn("stream source: failed to resolve notified signature", "signature", sigStr, "error", err)
		return
	}
	select {
	case s.out <- tx:
	case <-s.closed:
	default:
		s.log.Warn("stream source: output channel full, dropping transaction", "signature", sigStr)
	}
}
