package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// encodeRes builds a \0RES frame the way a job server would, so the
// Framer (which only ever decodes server-originated frames) can be
// exercised directly. Encode itself always produces \0REQ frames,
// matching the asymmetric real-protocol wire shape.
func encodeRes(verb Verb, fields ...[]byte) []byte {
	payload := bytes.Join(fields, []byte{0})
	buf := make([]byte, headerLen+len(payload))
	copy(buf[:magicLen], resMagic[:])
	binary.BigEndian.PutUint32(buf[magicLen:magicLen+verbLen], uint32(verb))
	binary.BigEndian.PutUint32(buf[magicLen+verbLen:headerLen], uint32(len(payload)))
	copy(buf[headerLen:], payload)
	return buf
}

func TestEncodeUsesRequestMagic(t *testing.T) {
	wire := Encode(VerbGrabJob)
	if !bytes.Equal(wire[:magicLen], reqMagic[:]) {
		t.Fatalf("Encode should prefix \\0REQ, got %q", wire[:magicLen])
	}
}

func TestFramerDecodesResponseFrame(t *testing.T) {
	wire := encodeRes(VerbWorkComplete, []byte("H:1"), []byte("ok"))

	f := NewFramer(bytes.NewReader(wire))
	pkt, err := f.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if pkt.Verb != VerbWorkComplete {
		t.Fatalf("expected VerbWorkComplete, got %v", pkt.Verb)
	}
	fields := pkt.Fields(2)
	if string(fields[0]) != "H:1" || string(fields[1]) != "ok" {
		t.Fatalf("unexpected fields: %q", fields)
	}
}

func TestFramerRejectsRequestMagic(t *testing.T) {
	wire := Encode(VerbGrabJob)
	f := NewFramer(bytes.NewReader(wire))
	if _, err := f.Next(); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic decoding a \\0REQ frame, got %v", err)
	}
}

func TestFramerMultiplePackets(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(encodeRes(VerbNoop))
	buf.Write(encodeRes(VerbJobCreated, []byte("H:2")))

	f := NewFramer(&buf)

	p1, err := f.Next()
	if err != nil || p1.Verb != VerbNoop {
		t.Fatalf("first packet: %v %v", p1, err)
	}
	p2, err := f.Next()
	if err != nil || p2.Verb != VerbJobCreated {
		t.Fatalf("second packet: %v %v", p2, err)
	}
	if string(p2.Payload) != "H:2" {
		t.Fatalf("unexpected payload %q", p2.Payload)
	}

	if _, err := f.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestFramerBadMagic(t *testing.T) {
	bad := []byte{'X', 'X', 'X', 'X', 0, 0, 0, 1, 0, 0, 0, 0}
	f := NewFramer(bytes.NewReader(bad))
	if _, err := f.Next(); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestVerbName(t *testing.T) {
	if VerbGrabJob.Name() != "grab_job" {
		t.Fatalf("unexpected name %q", VerbGrabJob.Name())
	}
	if Verb(9999).Name() != "verb(9999)" {
		t.Fatalf("unexpected fallback name %q", Verb(9999).Name())
	}
}

func TestIsSubmit(t *testing.T) {
	for _, v := range []Verb{VerbSubmitJob, VerbSubmitJobBg, VerbSubmitJobHigh, VerbSubmitJobLow} {
		if !v.IsSubmit() {
			t.Errorf("%v should be a submit verb", v)
		}
	}
	if VerbNoop.IsSubmit() {
		t.Error("noop should not be a submit verb")
	}
}
