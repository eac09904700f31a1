package tcp

import "errors"

var errHandshakeExpected = errors.New("tcp: expected a handshake frame")
