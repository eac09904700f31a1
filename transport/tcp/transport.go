// Package tcp implements the TCP listen/connect plumbing an Endpoint
// needs: a listener accepts inbound connections, Dial opens outbound
// ones, and each live connection exchanges a peer-id handshake before
// carrying application frames in both directions. A Transport
// constructed with WithReconnectInterval redials a lost dialed
// connection after a configured delay.
package tcp

import (
	"net"
	"sync"
	"time"

	"github.com/tsne/broker"
)

const defaultQueueSize = 64

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithReconnectInterval arms automatic redialing: when a connection
// this Transport dialed is lost, it is redialed after interval,
// repeating on every further failure until it succeeds, per spec.md
// §7's "transient transport... optional delayed reconnect per
// configured retry interval". Peers this Transport only accepted
// (never dialed) are never redialed, since accepting gives no address
// to redial. Unset, reconnecting is disabled.
func WithReconnectInterval(interval time.Duration) Option {
	return func(t *Transport) { t.reconnectInterval = interval }
}

// Transport drives a broker.Endpoint over TCP connections.
type Transport struct {
	ep        *broker.Endpoint
	queueSize int

	reconnectInterval time.Duration
	dialedMtx         sync.Mutex
	dialedAddr        map[broker.PeerID]string
}

// NewTransport returns a Transport for ep. queueSize bounds each
// peer's outbound frame queue; a value <= 0 falls back to a sane
// default.
func NewTransport(ep *broker.Endpoint, queueSize int, opts ...Option) *Transport {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	t := &Transport{ep: ep, queueSize: queueSize, dialedAddr: make(map[broker.PeerID]string)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Listen starts accepting inbound connections on addr. Accepted
// connections run the handshake and are registered with the endpoint
// in the background; Listen itself returns once the socket is bound.
func (t *Transport) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go t.acceptLoop(ln)
	return ln, nil
}

func (t *Transport) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go t.handle(conn)
	}
}

// Dial opens an outbound connection to addr, exchanges the handshake
// and registers the remote end as a peer. It returns once the
// handshake completes.
func (t *Transport) Dial(addr string) (broker.PeerID, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", err
	}

	peer, err := t.handshake(conn)
	if err != nil {
		conn.Close()
		return "", err
	}

	t.dialedMtx.Lock()
	t.dialedAddr[peer] = addr
	t.dialedMtx.Unlock()

	link := newLink(conn, t.queueSize)
	t.ep.Peer(peer, link)
	go t.readLoop(conn, peer, link)
	return peer, nil
}

func (t *Transport) handle(conn net.Conn) {
	peer, err := t.handshake(conn)
	if err != nil {
		conn.Close()
		return
	}

	link := newLink(conn, t.queueSize)
	t.ep.Peer(peer, link)
	t.readLoop(conn, peer, link)
}

func (t *Transport) handshake(conn net.Conn) (broker.PeerID, error) {
	if err := writeFrame(conn, tcpFrameHandshake, []byte(t.ep.ID())); err != nil {
		return "", err
	}
	typ, payload, err := readFrame(conn)
	if err != nil {
		return "", err
	}
	if typ != tcpFrameHandshake {
		return "", errHandshakeExpected
	}
	return broker.PeerID(payload), nil
}

func (t *Transport) readLoop(conn net.Conn, peer broker.PeerID, link *Link) {
	for {
		typ, payload, err := readFrame(conn)
		if err != nil {
			link.close()
			t.ep.Disconnected(peer, err)
			t.scheduleReconnect(peer)
			return
		}
		if typ != tcpFrameData {
			continue
		}
		t.ep.HandleFrame(peer, payload)
	}
}

// scheduleReconnect redials peer's last dialed address after
// reconnectInterval, if one is configured and peer was reached by
// Dial in the first place. It keeps retrying on every further
// failure until the connection is reestablished.
func (t *Transport) scheduleReconnect(peer broker.PeerID) {
	if t.reconnectInterval <= 0 {
		return
	}
	t.dialedMtx.Lock()
	addr, ok := t.dialedAddr[peer]
	t.dialedMtx.Unlock()
	if !ok {
		return
	}
	time.AfterFunc(t.reconnectInterval, func() { t.redial(peer, addr) })
}

func (t *Transport) redial(peer broker.PeerID, addr string) {
	if _, err := t.Dial(addr); err != nil {
		time.AfterFunc(t.reconnectInterval, func() { t.redial(peer, addr) })
	}
}
