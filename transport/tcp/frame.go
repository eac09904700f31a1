package tcp

import (
	"encoding/binary"
	"fmt"
	"io"
)

// On-wire transport frame:
//
//   | protocol version (uint32) |
//   | frame type       (uint32) |
//   | payload length   (uint32) |
//   | payload          ([]byte) |
//
// This envelope is a connection-lifecycle concern of this package; the
// application frame it carries (subscribe/publish/...) is opaque to it.

const (
	protocolVersion = 1
	headerLen       = 12
)

type tcpFrameType uint32

const (
	tcpFrameHandshake tcpFrameType = 1
	tcpFrameData      tcpFrameType = 2
)

func writeFrame(w io.Writer, typ tcpFrameType, payload []byte) error {
	var header [headerLen]byte
	binary.BigEndian.PutUint32(header[0:4], protocolVersion)
	binary.BigEndian.PutUint32(header[4:8], uint32(typ))
	binary.BigEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// writeFrameBuf writes one header+payload frame to w in a single Write
// call, growing buf via alloc instead of allocating fresh on every call.
// Safe to reuse buf across calls only from a single writer goroutine,
// since the returned slice aliases buf's backing array.
func writeFrameBuf(w io.Writer, typ tcpFrameType, payload []byte, buf []byte) ([]byte, error) {
	buf = alloc(headerLen+len(payload), buf)
	binary.BigEndian.PutUint32(buf[0:4], protocolVersion)
	binary.BigEndian.PutUint32(buf[4:8], uint32(typ))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[headerLen:], payload)
	_, err := w.Write(buf)
	return buf, err
}

func readFrame(r io.Reader) (tcpFrameType, []byte, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	version := binary.BigEndian.Uint32(header[0:4])
	if version != protocolVersion {
		return 0, nil, fmt.Errorf("tcp: unsupported protocol version %d", version)
	}
	typ := tcpFrameType(binary.BigEndian.Uint32(header[4:8]))
	n := binary.BigEndian.Uint32(header[8:12])

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return typ, payload, nil
}
