package nats

import (
	"testing"

	"github.com/tsne/broker"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	frame := []byte{0x01, 0x02, 0x03}
	enc := envelope(broker.PeerID("peer-a"), frame)

	from, got, err := unenvelope(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if from != "peer-a" {
		t.Fatalf("unexpected sender: %q", from)
	}
	if string(got) != string(frame) {
		t.Fatalf("unexpected frame: %v", got)
	}
}

func TestUnenvelopeRejectsShortHeader(t *testing.T) {
	if _, _, err := unenvelope([]byte{0x00}); err == nil {
		t.Fatal("expected an error, got none")
	}
}

func TestUnenvelopeRejectsTruncatedPeerID(t *testing.T) {
	if _, _, err := unenvelope([]byte{0x00, 0x05, 'a', 'b'}); err == nil {
		t.Fatal("expected an error, got none")
	}
}

func TestSubjectForUsesPeerInbox(t *testing.T) {
	if got, want := subjectFor("a"), "broker.peer.a"; got != want {
		t.Fatalf("unexpected subject: %q, want %q", got, want)
	}
}
