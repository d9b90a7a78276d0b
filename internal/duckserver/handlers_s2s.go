package duckserver

import (
	"github.com/duckchat/duckchatd/internal/wire"
)

// dispatchS2S routes one server-to-server packet to its handler. Every S2S
// packet, including keep-alives, refreshes the sender's liveness.
func (s *Server) dispatchS2S(typ wire.Type, from string, body []byte) {
	s.touchNeighbor(from)

	switch typ {
	case wire.ReqS2SJoin:
		s.handleS2SJoin(from, body)
	case wire.ReqS2SLeave:
		s.handleS2SLeave(from, body)
	case wire.ReqS2SSay:
		s.handleS2SSay(from, body)
	case wire.ReqS2SList:
		s.handleS2SList(from, body)
	case wire.ReqS2SWho:
		s.handleS2SWho(from, body)
	case wire.ReqS2SVerify:
		s.handleS2SVerify(from, body)
	case wire.ReqS2SLeaf:
		s.handleS2SLeaf(from, body)
	case wire.ReqS2SKeepAlive:
		// touchNeighbor already did the only work this packet carries.
	default:
		// Unrecognized type tags are silently dropped.
	}
}

func (s *Server) touchNeighbor(from string) {
	if n, ok := s.tables.neighbors[from]; ok {
		n.LastMinute = s.currentMinute()
	}
}

// handleS2SJoin grows the subscription tree: the first time this server
// hears about channel, it installs the sender as the lone known
// subscriber and floods the join onward; if channel is already known, the
// sender is just appended to the subscriber list and the flood stops here
// (the branch is pruned).
func (s *Server) handleS2SJoin(from string, body []byte) {
	req, err := wire.DecodeS2SJoin(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "S2S_JOIN", req.Channel)

	re, had := s.tables.routing[req.Channel]
	if !had {
		re = newRoutingEntry(req.Channel)
		s.tables.routing[req.Channel] = re
		re.addNeighbor(s.neighborFor(from))
		s.floodS2SJoin(req.Channel, from)
		return
	}
	re.addNeighbor(s.neighborFor(from))
}

// neighborFor returns the Neighbor record for addr, registering one if the
// mesh topology did not already name it. The topology is statically
// configured; this only guards against a peer address that was not listed
// on the command line.
func (s *Server) neighborFor(addr string) *Neighbor {
	if n, ok := s.tables.neighbors[addr]; ok {
		return n
	}
	n := newNeighbor(addr)
	s.tables.neighbors[addr] = n
	return n
}

// handleS2SLeave removes the sender from channel's subscriber list, then
// re-evaluates whether this server itself should now prune or probe.
func (s *Server) handleS2SLeave(from string, body []byte) {
	req, err := wire.DecodeS2SLeave(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "S2S_LEAVE", req.Channel)

	if re, ok := s.tables.routing[req.Channel]; ok {
		re.removeNeighbor(from)
	}
	s.reevaluateChannelAfterDeparture(req.Channel)
}

// handleS2SSay delivers a forwarded chat message locally and relays it
// onward, unless the message ID is already in the suppression cache (a
// loop), in which case it prunes the redundant edge instead.
func (s *Server) handleS2SSay(from string, body []byte) {
	req, err := wire.DecodeS2SSay(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "S2S_SAY", req.Channel)

	if s.tables.cache.contains(req.ID) {
		s.send(from, wire.EncodeS2SLeave(wire.S2SLeave{Channel: req.Channel}))
		s.logEvent(from, "send", "S2S_LEAVE", req.Channel)
		return
	}
	s.tables.cache.insert(req.ID)
	s.deliverLocalSay(req.Channel, req.Username, req.Text)

	re := s.tables.routing[req.Channel]
	hasLocals := false
	if ch, ok := s.tables.channels[req.Channel]; ok {
		hasLocals = len(ch.Users) > 0
	}
	if !hasLocals && (re == nil || len(re.Neighbors) <= 1) {
		s.pruneSelf(req.Channel, re)
		return
	}
	if re == nil {
		return
	}
	for _, n := range re.Neighbors {
		if n.Addr == from {
			continue
		}
		s.send(n.Addr, wire.EncodeS2SSay(req))
		s.logEvent(n.Addr, "send", "S2S_SAY", req.Channel)
	}
}

// handleS2SLeaf answers a leaf probe: if this server is already a leaf (or
// has already seen this probe's ID once, meaning a loop), it replies with
// S2S_LEAVE; otherwise it forwards the probe to every neighbor subscribed
// to channel.
func (s *Server) handleS2SLeaf(from string, body []byte) {
	req, err := wire.DecodeS2SLeaf(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "S2S_LEAF", req.Channel)

	if s.tables.cache.contains(req.ID) {
		s.send(from, wire.EncodeS2SLeave(wire.S2SLeave{Channel: req.Channel}))
		s.logEvent(from, "send", "S2S_LEAVE", req.Channel)
		return
	}
	s.tables.cache.insert(req.ID)

	if s.tables.isLeaf(req.Channel) {
		s.send(from, wire.EncodeS2SLeave(wire.S2SLeave{Channel: req.Channel}))
		s.logEvent(from, "send", "S2S_LEAVE", req.Channel)
		return
	}

	re := s.tables.routing[req.Channel]
	if re == nil {
		return
	}
	for _, n := range re.Neighbors {
		s.send(n.Addr, wire.EncodeS2SLeaf(wire.S2SLeaf{Channel: req.Channel, ID: req.ID}))
		s.logEvent(n.Addr, "send", "S2S_LEAF", req.Channel)
	}
}

// handleS2SList continues a federated LIST traversal: a fresh ID adds this
// server's own channel names and neighbors into the accumulator before
// deciding whether to reply to the client or forward to the next hop.
func (s *Server) handleS2SList(from string, body []byte) {
	req, err := wire.DecodeS2SList(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "S2S_LIST", "")

	channels, queue := req.Channels, req.Neighbors
	if !s.tables.cache.contains(req.ID) {
		s.tables.cache.insert(req.ID)
		channels = dedupAppend(req.Channels, s.localChannelNames())
		queue = dedupAppend(req.Neighbors, s.neighborQueue(from))
	}
	s.advanceListTraversal(req.ID, req.ClientAddr, channels, queue)
}

// handleS2SWho is handleS2SList's WHO counterpart.
func (s *Server) handleS2SWho(from string, body []byte) {
	req, err := wire.DecodeS2SWho(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "S2S_WHO", req.Channel)

	users, queue := req.Users, req.Neighbors
	if !s.tables.cache.contains(req.ID) {
		s.tables.cache.insert(req.ID)
		users = dedupAppend(req.Users, s.localChannelUsers(req.Channel))
		queue = dedupAppend(req.Neighbors, s.neighborQueue(from))
	}
	s.advanceWhoTraversal(req.ID, req.Channel, req.ClientAddr, users, queue)
}

// handleS2SVerify continues a federated VERIFY traversal. A local name
// collision short-circuits the whole traversal: this server replies
// negatively to the client directly and does not forward any further,
// symmetric with the immediate-reply path in handleVerify.
func (s *Server) handleS2SVerify(from string, body []byte) {
	req, err := wire.DecodeS2SVerify(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "S2S_VERIFY", req.Username)

	collision := s.localNameCollision(req.Username)
	queue := req.Neighbors
	if !s.tables.cache.contains(req.ID) {
		s.tables.cache.insert(req.ID)
		if !collision {
			queue = dedupAppend(req.Neighbors, s.neighborQueue(from))
		}
	}
	s.advanceVerifyTraversal(req.ID, req.Username, req.ClientAddr, queue, collision)
}
