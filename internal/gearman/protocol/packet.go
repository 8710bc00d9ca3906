package protocol

import "bytes"

// Packet is one discrete framed record, decoupled from direction:
// reqMagic is used for client/worker-originated packets, resMagic for
// server-originated ones. The endpoint only ever reads resMagic
// packets and only ever writes reqMagic ones.
type Packet struct {
	Verb    Verb
	Payload []byte
}

// Fields splits a NUL-joined payload into its component fields, the
// layout every multi-field verb in §6.2/§6.3 uses (e.g. work_complete
// is "handle \0 result").
func (p Packet) Fields(n int) [][]byte {
	parts := bytes.SplitN(p.Payload, []byte{0}, n)
	return parts
}

const (
	magicLen  = 4
	verbLen   = 4
	sizeLen   = 4
	headerLen = magicLen + verbLen + sizeLen
)

var (
	reqMagic = [magicLen]byte{0, 'R', 'E', 'Q'}
	resMagic = [magicLen]byte{0, 'R', 'E', 'S'}
)
