package duckserver

import (
	"testing"
	"time"

	"github.com/duckchat/duckchatd/internal/wire"
)

// sentPacket is one datagram a fakeSender recorded.
type sentPacket struct {
	addr string
	data []byte
}

// fakeSender is a packetSender that records every send instead of touching
// a real socket.
type fakeSender struct {
	sent []sentPacket
}

func (f *fakeSender) SendTo(addr string, data []byte) error {
	f.sent = append(f.sent, sentPacket{addr: addr, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeSender) typesTo(addr string) []wire.Type {
	var types []wire.Type
	for _, p := range f.sent {
		if p.addr != addr {
			continue
		}
		typ, _, err := wire.PeekType(p.data)
		if err != nil {
			continue
		}
		types = append(types, typ)
	}
	return types
}

func (f *fakeSender) last() (string, wire.Type, []byte) {
	if len(f.sent) == 0 {
		return "", 0, nil
	}
	p := f.sent[len(f.sent)-1]
	typ, body, err := wire.PeekType(p.data)
	if err != nil {
		return p.addr, 0, nil
	}
	return p.addr, typ, body
}

// idSeq returns a deterministic, strictly increasing nextID source for tests.
func idSeq() func() uint64 {
	var n uint64
	return func() uint64 {
		n++
		return n
	}
}

func newTestServer() (*Server, *fakeSender) {
	fs := &fakeSender{}
	s := newForTest(fs)
	s.nextID = idSeq()
	return s, fs
}

func setMinute(s *Server, minute int) {
	base := time.Date(2026, 1, 1, 0, minute, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
}

func mustDecodeS2SJoin(t *testing.T, body []byte) wire.S2SJoin {
	t.Helper()
	r, err := wire.DecodeS2SJoin(body)
	if err != nil {
		t.Fatalf("DecodeS2SJoin: %v", err)
	}
	return r
}
