package tcp

import (
	"fmt"
	"net"
	"sync"

	"github.com/tsne/broker"
)

// Link is a bounded outbound path to one peer over a single TCP
// connection: Send enqueues a frame and returns immediately; a single
// writer goroutine drains the queue, so a slow peer backs up its own
// queue rather than blocking whichever actor called Send.
type Link struct {
	conn net.Conn

	mu     sync.Mutex
	queue  chan []byte
	closed bool
	done   chan struct{}
}

func newLink(conn net.Conn, queueSize int) *Link {
	l := &Link{
		conn:  conn,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
	go l.writeLoop()
	return l
}

// Send implements broker.Link. A full outbound queue returns
// broker.ErrLinkSaturated rather than blocking the caller; the
// endpoint holds the frame and retries it through this same method,
// per spec.md §5's backpressure paragraph. Any other error means the
// link is dead.
func (l *Link) Send(frame []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return fmt.Errorf("tcp: link to %s is closed", l.conn.RemoteAddr())
	}

	select {
	case l.queue <- frame:
		return nil
	default:
		return broker.ErrLinkSaturated
	}
}

// writeLoop is this Link's only writer, so the scratch buffer it grows
// through writeFrameBuf can be safely reused across every frame it
// sends rather than reallocated per frame.
func (l *Link) writeLoop() {
	var buf []byte
	for {
		select {
		case frame := <-l.queue:
			var err error
			buf, err = writeFrameBuf(l.conn, tcpFrameData, frame, buf)
			if err != nil {
				l.close()
				return
			}
		case <-l.done:
			return
		}
	}
}

func (l *Link) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.conn.Close()
}
