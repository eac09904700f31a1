package nats

import (
	"github.com/tsne/broker"
)

func subjectFor(id broker.PeerID) string {
	return "broker.peer." + string(id)
}

// envelope prefixes a frame with its sender's peer id, since a NATS
// subject carries no connection-level sender identity the way a TCP
// socket does.
func envelope(self broker.PeerID, frame []byte) []byte {
	id := []byte(self)
	out := make([]byte, 0, 2+len(id)+len(frame))
	out = append(out, byte(len(id)>>8), byte(len(id)))
	out = append(out, id...)
	out = append(out, frame...)
	return out
}

func unenvelope(data []byte) (broker.PeerID, []byte, error) {
	if len(data) < 2 {
		return "", nil, envelopeError("short header")
	}
	n := int(data[0])<<8 | int(data[1])
	data = data[2:]
	if len(data) < n {
		return "", nil, envelopeError("truncated peer id")
	}
	return broker.PeerID(data[:n]), data[n:], nil
}

// Link sends frames to a single remote peer's inbox subject.
type Link struct {
	conn *Conn
	self broker.PeerID
	to   broker.PeerID
}

// Send implements broker.Link.
func (l *Link) Send(frame []byte) error {
	return l.conn.Publish(subjectFor(l.to), envelope(l.self, frame))
}

// Transport binds a NATS connection to an endpoint: it listens on the
// endpoint's own inbox subject and hands every frame it receives to
// HandleFrame, and constructs a Link for every peer the caller adds.
type Transport struct {
	conn *Conn
	ep   *broker.Endpoint
}

// NewTransport returns a Transport for ep over conn. Call Listen once
// to start receiving, then Peer for every remote peer to reach.
func NewTransport(conn *Conn, ep *broker.Endpoint) *Transport {
	return &Transport{conn: conn, ep: ep}
}

// Listen subscribes to this endpoint's own inbox subject.
func (t *Transport) Listen() error {
	self := t.ep.ID()
	return t.conn.Subscribe(subjectFor(self), string(self), func(_ string, data []byte) {
		from, frame, err := unenvelope(data)
		if err != nil {
			return
		}
		t.ep.HandleFrame(from, frame)
	})
}

// Peer registers id as a direct peer of the endpoint, reachable by
// publishing to its inbox subject.
func (t *Transport) Peer(id broker.PeerID) {
	t.ep.Peer(id, &Link{conn: t.conn, self: t.ep.ID(), to: id})
}

// Close unsubscribes from the endpoint's inbox subject and closes the
// underlying connection.
func (t *Transport) Close() error {
	t.conn.Unsubscribe(subjectFor(t.ep.ID()))
	return t.conn.Close()
}
