package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrBadMagic is returned when a packet header does not start with
// the expected \0RES magic — the stream is no longer framable and the
// connection must be torn down.
var ErrBadMagic = errors.New("protocol: bad packet magic")

// Framer incrementally decodes a stream of \0RES packets off an
// io.Reader. It holds no reference back to whoever owns the
// connection — C8 (the packet router) is the one with endpoint
// context; the framer only knows how to find packet boundaries,
// mirroring the length-prefix discipline the teacher's TCP server
// applies to its own line-based frames.
type Framer struct {
	r      *bufio.Reader
	header [headerLen]byte
}

// NewFramer wraps r for repeated Next() calls.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next blocks until one full packet has been read, or returns the
// underlying read error (including io.EOF on a clean close). A
// non-EOF error, or ErrBadMagic, is fatal per §7 and the caller must
// close the connection rather than call Next again.
func (f *Framer) Next() (Packet, error) {
	if _, err := io.ReadFull(f.r, f.header[:]); err != nil {
		return Packet{}, err
	}
	if f.header[0] != resMagic[0] || f.header[1] != resMagic[1] ||
		f.header[2] != resMagic[2] || f.header[3] != resMagic[3] {
		return Packet{}, ErrBadMagic
	}
	verb := Verb(binary.BigEndian.Uint32(f.header[magicLen : magicLen+verbLen]))
	size := binary.BigEndian.Uint32(f.header[magicLen+verbLen:])

	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(f.r, payload); err != nil {
			return Packet{}, fmt.Errorf("protocol: short payload for %s: %w", verb.Name(), err)
		}
	}
	return Packet{Verb: verb, Payload: payload}, nil
}
