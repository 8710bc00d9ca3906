package protocol

import (
	"bytes"
	"encoding/binary"
)

// Encode serializes an outbound command (C2): fields are NUL-joined
// into a single payload and framed behind the \0REQ header. This is
// the only place that constructs bytes a job server will see.
func Encode(verb Verb, fields ...[]byte) []byte {
	payload := bytes.Join(fields, []byte{0})

	buf := make([]byte, headerLen+len(payload))
	copy(buf[:magicLen], reqMagic[:])
	binary.BigEndian.PutUint32(buf[magicLen:magicLen+verbLen], uint32(verb))
	binary.BigEndian.PutUint32(buf[magicLen+verbLen:headerLen], uint32(len(payload)))
	copy(buf[headerLen:], payload)
	return buf
}

// Join is a convenience for building a NUL-joined multi-field payload
// without framing it, used by tasks that construct their own
// submit_job* packet bytes per §6.5.
func Join(fields ...[]byte) []byte {
	return bytes.Join(fields, []byte{0})
}
