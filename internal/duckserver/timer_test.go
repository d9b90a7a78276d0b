package duckserver

import (
	"testing"

	"github.com/duckchat/duckchatd/internal/wire"
)

func TestTickRefloodsRoutedChannels(t *testing.T) {
	s, fs := newTestServer()
	re := newRoutingEntry("dev")
	re.addNeighbor(newNeighbor(peerA))
	s.tables.routing["dev"] = re
	s.tables.neighbors[peerA] = re.Neighbors[0]

	s.tick()

	types := fs.typesTo(peerA)
	foundJoin, foundKeepAlive := false, false
	for _, typ := range types {
		switch typ {
		case wire.ReqS2SJoin:
			foundJoin = true
		case wire.ReqS2SKeepAlive:
			foundKeepAlive = true
		}
	}
	if !foundJoin {
		t.Fatal("expected tick to re-flood REQ_S2S_JOIN for a routed channel")
	}
	if !foundKeepAlive {
		t.Fatal("expected tick to send a keep-alive to every neighbor")
	}
}

func TestSweepEvictsStaleUser(t *testing.T) {
	s, _ := newTestServer()
	setMinute(s, 0)
	s.dispatchClient(wire.ReqLogin, alice, wire.EncodeLoginReq(wire.LoginReq{Username: "alice"})[4:])
	s.dispatchClient(wire.ReqJoin, alice, wire.EncodeJoinReq(wire.JoinReq{Channel: "dev"})[4:])

	// alice's last packet was stamped at minute 0. Advance the clock well
	// past wire.RefreshRate minutes so the sweep considers her stale.
	setMinute(s, wire.RefreshRate+5)
	s.minuteCounter = wire.RefreshRate - 1
	s.tick()

	if _, ok := s.tables.users[alice]; ok {
		t.Fatal("expected the inactive user to be evicted")
	}
	if _, ok := s.tables.channels["dev"]; ok {
		t.Fatal("expected dev to be dropped once its only subscriber was evicted")
	}
}

func TestSweepKeepsFreshUser(t *testing.T) {
	s, _ := newTestServer()
	s.dispatchClient(wire.ReqLogin, alice, wire.EncodeLoginReq(wire.LoginReq{Username: "alice"})[4:])

	setMinute(s, 1)
	s.tables.users[alice].LastMinute = 1
	s.minuteCounter = wire.RefreshRate - 1
	s.tick()

	if _, ok := s.tables.users[alice]; !ok {
		t.Fatal("expected a recently-active user to survive the sweep")
	}
}

func TestSweepEvictsStaleNeighbor(t *testing.T) {
	s, fs := newTestServer()
	n := newNeighbor(peerA)
	s.tables.neighbors[peerA] = n
	re := newRoutingEntry("dev")
	re.addNeighbor(n)
	s.tables.routing["dev"] = re

	setMinute(s, wire.RefreshRate+5)
	s.minuteCounter = wire.RefreshRate - 1
	fs.sent = nil
	s.tick()

	if _, ok := s.tables.neighbors[peerA]; ok {
		t.Fatal("expected the inactive neighbor to be evicted")
	}
	if _, ok := s.tables.routing["dev"]; ok {
		t.Fatal("expected dev's routing entry to be dropped once its only neighbor was evicted")
	}
}

func TestMinuteDiffWraps(t *testing.T) {
	cases := []struct{ now, last, want int }{
		{5, 2, 3},
		{2, 58, 4},
		{0, 59, 1},
		{10, 10, 0},
	}
	for _, c := range cases {
		if got := minuteDiff(c.now, c.last); got != c.want {
			t.Errorf("minuteDiff(%d, %d) = %d, want %d", c.now, c.last, got, c.want)
		}
	}
}
