package duckserver

import "github.com/duckchat/duckchatd/internal/wire"

// dedupAppend appends items from add that are not already present in base,
// preserving the order of first appearance. Used to keep the federated
// traversal's channel/user sets and unvisited-neighbor queues free of
// duplicates introduced by cycles in the mesh.
func dedupAppend(base []string, add []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, v := range base {
		seen[v] = struct{}{}
	}
	out := base
	for _, v := range add {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// neighborQueue returns this server's own neighbor addresses, excluding
// exclude (the neighbor that sent us the packet we are continuing, if
// any). Used both to seed the initial unvisited-neighbor list and to grow
// it as a traversal passes through each server.
func (s *Server) neighborQueue(exclude string) []string {
	queue := make([]string, 0, len(s.tables.neighbors))
	for addr := range s.tables.neighbors {
		if addr == exclude {
			continue
		}
		queue = append(queue, addr)
	}
	return queue
}

// initiateListTraversal starts a federated LIST query: this server seeds
// the accumulator with its own channel names, caches the traversal ID
// against itself (so a cycle back to this server does not double-count),
// and hands the packet off to advanceListTraversal to take the first hop.
func (s *Server) initiateListTraversal(clientAddr string, neighbors []string) {
	id := s.nextID()
	s.tables.cache.insert(id)
	channels := dedupAppend(nil, s.localChannelNames())
	s.advanceListTraversal(id, clientAddr, channels, neighbors)
}

// initiateWhoTraversal is initiateListTraversal's WHO counterpart.
func (s *Server) initiateWhoTraversal(clientAddr, channel string, neighbors []string) {
	id := s.nextID()
	s.tables.cache.insert(id)
	users := dedupAppend(nil, s.localChannelUsers(channel))
	s.advanceWhoTraversal(id, channel, clientAddr, users, neighbors)
}

// advanceListTraversal pops the next hop off queue and forwards, or, once
// the queue is empty, delivers the accumulated channel directory straight
// to the originating client. Shared by the initiating server and every
// server the traversal passes through.
func (s *Server) advanceListTraversal(id uint64, clientAddr string, channels, queue []string) {
	if len(queue) == 0 {
		s.send(clientAddr, wire.EncodeListText(wire.ListText{Channels: channels}))
		s.logEvent(clientAddr, "send", "TXT_LIST", "")
		return
	}
	next, rest := queue[0], queue[1:]
	pkt := wire.S2SList{ID: id, ClientAddr: clientAddr, Channels: channels, Neighbors: rest}
	s.send(next, wire.EncodeS2SList(pkt))
	s.logEvent(next, "send", "S2S_LIST", "")
}

// advanceWhoTraversal is advanceListTraversal's WHO counterpart.
func (s *Server) advanceWhoTraversal(id uint64, channel, clientAddr string, users, queue []string) {
	if len(queue) == 0 {
		s.send(clientAddr, wire.EncodeWhoText(wire.WhoText{Channel: channel, Users: users}))
		s.logEvent(clientAddr, "send", "TXT_WHO", channel)
		return
	}
	next, rest := queue[0], queue[1:]
	pkt := wire.S2SWho{ID: id, Channel: channel, ClientAddr: clientAddr, Users: users, Neighbors: rest}
	s.send(next, wire.EncodeS2SWho(pkt))
	s.logEvent(next, "send", "S2S_WHO", channel)
}

// advanceVerifyTraversal is VERIFY's traversal step. A local name collision
// anywhere in the mesh short-circuits the whole traversal with a negative
// reply straight to the client; an empty queue with no collision found
// means the name is clear everywhere visited.
func (s *Server) advanceVerifyTraversal(id uint64, username, clientAddr string, queue []string, collision bool) {
	if collision {
		s.send(clientAddr, wire.EncodeVerifyText(wire.VerifyText{Valid: false}))
		s.logEvent(clientAddr, "send", "TXT_VERIFY", username)
		return
	}
	if len(queue) == 0 {
		s.send(clientAddr, wire.EncodeVerifyText(wire.VerifyText{Valid: true}))
		s.logEvent(clientAddr, "send", "TXT_VERIFY", username)
		return
	}
	next, rest := queue[0], queue[1:]
	pkt := wire.S2SVerify{ID: id, Username: username, ClientAddr: clientAddr, Neighbors: rest}
	s.send(next, wire.EncodeS2SVerify(pkt))
	s.logEvent(next, "send", "S2S_VERIFY", username)
}
