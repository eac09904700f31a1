package tcp

import (
	"bytes"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, tcpFrameData, []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	typ, payload, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ != tcpFrameData {
		t.Fatalf("unexpected frame type: %v", typ)
	}
	if string(payload) != "hello" {
		t.Fatalf("unexpected payload: %q", payload)
	}
}

func TestReadFrameRejectsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, tcpFrameData, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw := buf.Bytes()
	raw[3] = 9 // corrupt the version field

	if _, _, err := readFrame(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected an error, got none")
	}
}

func TestReadFrameRejectsTruncatedInput(t *testing.T) {
	if _, _, err := readFrame(bytes.NewReader([]byte{0, 0, 0, 1})); err == nil {
		t.Fatal("expected an error, got none")
	}
}

func TestWriteFrameBufRoundTripsAndReusesBuffer(t *testing.T) {
	var out bytes.Buffer
	buf, err := writeFrameBuf(&out, tcpFrameData, []byte("hello"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := cap(buf)

	typ, payload, err := readFrame(&out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ != tcpFrameData || string(payload) != "hello" {
		t.Fatalf("unexpected frame: %v %q", typ, payload)
	}

	buf, err = writeFrameBuf(&out, tcpFrameData, []byte("hi"), buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cap(buf) != first {
		t.Fatalf("expected the smaller second frame to reuse the same backing array, cap changed to %d", cap(buf))
	}

	typ, payload, err = readFrame(&out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ != tcpFrameData || string(payload) != "hi" {
		t.Fatalf("unexpected frame: %v %q", typ, payload)
	}
}
