package duckserver

import (
	"fmt"

	"github.com/duckchat/duckchatd/internal/wire"
)

// dispatchClient routes one client-facing request to its handler. from is
// the packet's canonical source "host:port". Every packet from a logged-in
// client, including the LOGIN that creates it, refreshes its liveness.
func (s *Server) dispatchClient(typ wire.Type, from string, body []byte) {
	switch typ {
	case wire.ReqVerify:
		s.handleVerify(from, body)
	case wire.ReqLogin:
		s.handleLogin(from, body)
	case wire.ReqLogout:
		s.handleLogout(from)
	case wire.ReqJoin:
		s.handleJoin(from, body)
	case wire.ReqLeave:
		s.handleLeave(from, body)
	case wire.ReqSay:
		s.handleSay(from, body)
	case wire.ReqList:
		s.handleList(from)
	case wire.ReqWho:
		s.handleWho(from, body)
	case wire.ReqKeepAlive:
		s.handleKeepAlive(from)
	default:
		// Unrecognized type tags are silently dropped.
		return
	}

	if u, ok := s.tables.users[from]; ok {
		u.LastMinute = s.currentMinute()
	}
}

func (s *Server) sendError(to, message string) {
	s.send(to, wire.EncodeErrorText(wire.ErrorText{Message: message}))
}

// handleVerify checks a prospective username for a collision across the
// whole mesh, starting with this server's own user table.
func (s *Server) handleVerify(from string, body []byte) {
	req, err := wire.DecodeVerifyReq(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "VERIFY", req.Username)

	collision := s.localNameCollision(req.Username)
	neighbors := s.allNeighborAddrs()
	if collision || len(neighbors) == 0 {
		s.send(from, wire.EncodeVerifyText(wire.VerifyText{Valid: !collision}))
		return
	}

	id := s.nextID()
	s.tables.cache.insert(id)
	s.advanceVerifyTraversal(id, req.Username, from, neighbors, false)
}

func (s *Server) localNameCollision(name string) bool {
	for _, u := range s.tables.users {
		if u.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) allNeighborAddrs() []string {
	addrs := make([]string, 0, len(s.tables.neighbors))
	for addr := range s.tables.neighbors {
		addrs = append(addrs, addr)
	}
	return addrs
}

// handleLogin creates a User keyed by the packet's source address. An
// existing key is a no-op from the handler's perspective — login is
// idempotent, not an error.
func (s *Server) handleLogin(from string, body []byte) {
	req, err := wire.DecodeLoginReq(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "LOGIN", req.Username)
	if _, exists := s.tables.users[from]; exists {
		return
	}
	s.tables.users[from] = newUser(from, req.Username)
}

// handleLogout removes the user and scrubs it from every channel it
// subscribed to, dropping any channel that becomes empty.
func (s *Server) handleLogout(from string) {
	s.logEvent(from, "recv", "LOGOUT", "")
	u, ok := s.tables.users[from]
	if !ok {
		return
	}
	channels := make([]string, 0, len(u.Channels))
	for c := range u.Channels {
		channels = append(channels, c)
	}
	s.tables.removeUser(from)
	for _, channel := range channels {
		s.reevaluateChannelAfterDeparture(channel)
	}
}

// handleJoin subscribes an already-logged-in user to a channel, growing the
// S2S subscription tree the first time this server joins the channel.
func (s *Server) handleJoin(from string, body []byte) {
	req, err := wire.DecodeJoinReq(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "JOIN", req.Channel)

	u, ok := s.tables.users[from]
	if !ok {
		return
	}
	if _, already := u.Channels[req.Channel]; !already && len(u.Channels) >= wire.MaxChannels {
		s.sendError(from, fmt.Sprintf("channel limit reached (%d)", wire.MaxChannels))
		return
	}

	_, hadRoute := s.tables.routing[req.Channel]
	neighbors := s.allNeighborAddrs()
	if !hadRoute && len(neighbors) > 0 {
		re := newRoutingEntry(req.Channel)
		for addr := range s.tables.neighbors {
			re.addNeighbor(s.tables.neighbors[addr])
		}
		s.tables.routing[req.Channel] = re
		s.floodS2SJoin(req.Channel, "")
	}

	s.tables.addUserToChannel(u, req.Channel)
}

// floodS2SJoin sends REQ_S2S_JOIN for channel to every neighbor except
// exceptAddr (pass "" to flood to all neighbors).
func (s *Server) floodS2SJoin(channel, exceptAddr string) {
	pkt := wire.EncodeS2SJoin(wire.S2SJoin{Channel: channel})
	for addr := range s.tables.neighbors {
		if addr == exceptAddr {
			continue
		}
		s.send(addr, pkt)
		s.logEvent(addr, "send", "S2S_JOIN", channel)
	}
}

// handleLeave unsubscribes a user from a channel and, if this server no
// longer needs to carry that channel's traffic, starts pruning the S2S
// subscription tree.
func (s *Server) handleLeave(from string, body []byte) {
	req, err := wire.DecodeLeaveReq(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "LEAVE", req.Channel)

	u, ok := s.tables.users[from]
	if !ok {
		return
	}
	s.tables.removeUserFromChannel(u, req.Channel)
	s.reevaluateChannelAfterDeparture(req.Channel)
}

// reevaluateChannelAfterDeparture implements the shared tail of LEAVE,
// LOGOUT, and the inactivity sweep: drop an emptied non-default channel,
// then prune or probe this server's position in the S2S subscription tree.
func (s *Server) reevaluateChannelAfterDeparture(channel string) {
	s.tables.dropChannelIfEmpty(channel)

	ch := s.tables.channels[channel]
	hasLocals := ch != nil && len(ch.Users) > 0
	if hasLocals {
		return
	}

	re := s.tables.routing[channel]
	switch {
	case re == nil || len(re.Neighbors) <= 1:
		s.pruneSelf(channel, re)
	default:
		s.probeLeaf(channel, re)
	}
}

// pruneSelf removes this server from channel's subscription tree: it
// notifies its lone remaining neighbor (if any) and drops the routing entry.
func (s *Server) pruneSelf(channel string, re *RoutingEntry) {
	if re != nil && len(re.Neighbors) == 1 {
		neighbor := re.Neighbors[0].Addr
		s.send(neighbor, wire.EncodeS2SLeave(wire.S2SLeave{Channel: channel}))
		s.logEvent(neighbor, "send", "S2S_LEAVE", channel)
	}
	delete(s.tables.routing, channel)
}

// probeLeaf asks every subscribed neighbor whether it can also prune itself,
// used when this server has lost its last local subscriber but still has
// two or more neighbors on channel (so it cannot yet prove it is a leaf).
func (s *Server) probeLeaf(channel string, re *RoutingEntry) {
	for _, n := range re.Neighbors {
		id := s.nextID()
		s.send(n.Addr, wire.EncodeS2SLeaf(wire.S2SLeaf{Channel: channel, ID: id}))
		s.logEvent(n.Addr, "send", "S2S_LEAF", channel)
	}
}

// handleSay broadcasts a message to every local subscriber of Channel, then
// forwards it into the S2S mesh for delivery on other servers.
func (s *Server) handleSay(from string, body []byte) {
	req, err := wire.DecodeSayReq(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "SAY", req.Channel)

	u, ok := s.tables.users[from]
	if !ok {
		s.sendError(from, "not logged in")
		return
	}

	s.deliverLocalSay(req.Channel, u.Name, req.Text)

	re, ok := s.tables.routing[req.Channel]
	if !ok || len(re.Neighbors) == 0 {
		return
	}
	id := s.nextID()
	s.tables.cache.insert(id)
	pkt := wire.S2SSay{ID: id, Channel: req.Channel, Username: u.Name, Text: req.Text}
	for _, n := range re.Neighbors {
		s.send(n.Addr, wire.EncodeS2SSay(pkt))
		s.logEvent(n.Addr, "send", "S2S_SAY", req.Channel)
	}
}

func (s *Server) deliverLocalSay(channel, username, text string) {
	ch, ok := s.tables.channels[channel]
	if !ok {
		return
	}
	pkt := wire.EncodeSayText(wire.SayText{Channel: channel, Username: username, Text: text})
	for _, u := range ch.Users {
		s.send(u.Addr, pkt)
	}
}

// handleList answers a channel-directory query, either immediately from
// local tables or by starting a federated traversal.
func (s *Server) handleList(from string) {
	s.logEvent(from, "recv", "LIST", "")
	neighbors := s.allNeighborAddrs()
	if len(neighbors) == 0 {
		s.send(from, wire.EncodeListText(wire.ListText{Channels: s.localChannelNames()}))
		return
	}
	s.initiateListTraversal(from, neighbors)
}

func (s *Server) localChannelNames() []string {
	names := make([]string, 0, len(s.tables.channels))
	for name := range s.tables.channels {
		names = append(names, name)
	}
	return names
}

// handleWho answers a channel-membership query, either immediately from
// local tables or by starting a federated traversal.
func (s *Server) handleWho(from string, body []byte) {
	req, err := wire.DecodeWhoReq(body)
	if err != nil {
		return
	}
	s.logEvent(from, "recv", "WHO", req.Channel)

	neighbors := s.allNeighborAddrs()
	if len(neighbors) == 0 {
		s.send(from, wire.EncodeWhoText(wire.WhoText{Channel: req.Channel, Users: s.localChannelUsers(req.Channel)}))
		return
	}
	s.initiateWhoTraversal(from, req.Channel, neighbors)
}

func (s *Server) localChannelUsers(channel string) []string {
	ch, ok := s.tables.channels[channel]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(ch.Users))
	for _, u := range ch.Users {
		names = append(names, u.Name)
	}
	return names
}

// handleKeepAlive is a pure side effect: it stamps the user's last-seen
// minute so the inactivity sweep leaves it alone.
func (s *Server) handleKeepAlive(from string) {
	if u, ok := s.tables.users[from]; ok {
		u.LastMinute = s.currentMinute()
	}
}
