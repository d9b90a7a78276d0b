package duckserver

import "github.com/duckchat/duckchatd/internal/wire"

// tick runs the per-minute maintenance pass: every routing-table channel is
// re-flooded so a dropped JOIN packet self-heals, every neighbor gets a
// keep-alive, and every wire.RefreshRate ticks an inactivity sweep evicts
// stale users and neighbors.
//
// tick is called from the main socket loop on each read timeout, which the
// loop times to land roughly once a minute.
func (s *Server) tick() {
	s.reflood()
	s.sendKeepAlives()

	s.minuteCounter++
	if s.minuteCounter < wire.RefreshRate {
		return
	}
	s.minuteCounter = 0
	s.sweep()
}

// reflood re-sends REQ_S2S_JOIN for every channel this server is routing,
// to every subscribed neighbor. A join lost to a dropped UDP datagram would
// otherwise leave a permanent hole in the subscription tree.
func (s *Server) reflood() {
	for channel, re := range s.tables.routing {
		pkt := wire.EncodeS2SJoin(wire.S2SJoin{Channel: channel})
		for _, n := range re.Neighbors {
			s.send(n.Addr, pkt)
			s.logEvent(n.Addr, "send", "S2S_JOIN", channel)
		}
	}
}

func (s *Server) sendKeepAlives() {
	pkt := wire.EncodeS2SKeepAlive()
	for addr := range s.tables.neighbors {
		s.send(addr, pkt)
	}
}

// sweep evicts users and neighbors that have gone more than
// wire.RefreshRate minutes without a packet. A logged-out user is treated
// exactly like an explicit LOGOUT: every channel it leaves behind is
// re-evaluated for pruning. A dropped neighbor likewise re-evaluates every
// channel it was subscribed to.
func (s *Server) sweep() {
	now := s.currentMinute()

	var staleUsers []string
	for addr, u := range s.tables.users {
		if minuteDiff(now, u.LastMinute) > wire.RefreshRate {
			staleUsers = append(staleUsers, addr)
		}
	}
	for _, addr := range staleUsers {
		u := s.tables.users[addr]
		channels := make([]string, 0, len(u.Channels))
		for c := range u.Channels {
			channels = append(channels, c)
		}
		s.logEvent(addr, "drop", "LOGOUT", "inactive")
		s.tables.removeUser(addr)
		for _, channel := range channels {
			s.reevaluateChannelAfterDeparture(channel)
		}
	}

	var staleNeighbors []string
	for addr, n := range s.tables.neighbors {
		if minuteDiff(now, n.LastMinute) > wire.RefreshRate {
			staleNeighbors = append(staleNeighbors, addr)
		}
	}
	for _, addr := range staleNeighbors {
		s.logEvent(addr, "drop", "S2S_LEAVE", "inactive")
		touched := s.tables.removeNeighbor(addr)
		for _, channel := range touched {
			s.reevaluateChannelAfterDeparture(channel)
		}
	}
}
