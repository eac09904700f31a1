package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/tsne/broker"
)

func TestTransportEndToEnd(t *testing.T) {
	a, err := broker.NewEndpoint("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := broker.NewEndpoint("b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ta := NewTransport(a, 0)
	tb := NewTransport(b, 0)

	ln, err := ta.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ln.Close()

	if _, err := tb.Dial(ln.Addr().String()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	received := make(chan broker.Data, 1)
	b.Subscribe("weather", func(topic broker.Topic, v broker.Data) { received <- v })

	time.Sleep(50 * time.Millisecond) // let the subscription filter reach a
	a.Publish("weather/stockholm", broker.StringData("sunny"))

	select {
	case v := <-received:
		if !v.Equal(broker.StringData("sunny")) {
			t.Fatalf("unexpected value: %v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery over the tcp transport")
	}
}

func TestTransportRedialsAfterLinkLoss(t *testing.T) {
	a, err := broker.NewEndpoint("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := broker.NewEndpoint("b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ta := NewTransport(a, 0)
	tb := NewTransport(b, 0, WithReconnectInterval(20*time.Millisecond))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
			go ta.handle(conn)
		}
	}()

	if _, err := tb.Dial(ln.Addr().String()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := <-accepted
	first.Close() // sever a's side; b's read loop observes the loss and should redial

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("expected a redial after the dialed connection was lost")
	}
}

func TestDialFailsAgainstClosedPort(t *testing.T) {
	a, err := broker.NewEndpoint("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ta := NewTransport(a, 0)

	ln, err := ta.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := ta.Dial(addr); err == nil {
		t.Fatal("expected an error dialing a closed port, got none")
	}
}
