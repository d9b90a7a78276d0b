package duckserver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/duckchat/duckchatd/internal/wire"
)

// Snapshot is a point-in-time, read-only copy of the core tables' sizes and
// names, served to the admin HTTP surface over snapshotReq so it never
// needs a mutex on the live tables.
type Snapshot struct {
	SelfAddr  string
	Users     int
	Channels  []string
	Neighbors []NeighborSnapshot
	Routing   map[string]int
}

// NeighborSnapshot is one neighbor's address and how many minutes it has
// been since its last S2S packet, as of the snapshot's own clock reading.
type NeighborSnapshot struct {
	Addr        string
	IdleMinutes int
}

func (s *Server) snapshot() Snapshot {
	now := s.currentMinute()

	channels := make([]string, 0, len(s.tables.channels))
	for name := range s.tables.channels {
		channels = append(channels, name)
	}

	neighbors := make([]NeighborSnapshot, 0, len(s.tables.neighbors))
	for _, n := range s.tables.neighbors {
		neighbors = append(neighbors, NeighborSnapshot{
			Addr:        n.Addr,
			IdleMinutes: minuteDiff(now, n.LastMinute),
		})
	}

	routing := make(map[string]int, len(s.tables.routing))
	for channel, re := range s.tables.routing {
		routing[channel] = len(re.Neighbors)
	}

	return Snapshot{
		SelfAddr:  s.selfAddr,
		Users:     len(s.tables.users),
		Channels:  channels,
		Neighbors: neighbors,
		Routing:   routing,
	}
}

// RequestSnapshot asks the Run loop for a snapshot and blocks for the
// answer, or until ctx is done. This is the one sanctioned way a goroutine
// other than Run's may observe server state.
func (s *Server) RequestSnapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case s.snapshotReq <- reply:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// readTimeout bounds each socket read so the loop periodically falls
// through to service snapshot requests and the minute timer even when no
// packets arrive.
const readTimeout = 60 * time.Second

// Run is the server's single goroutine: it owns every table and is the
// only thing that ever mutates them. It reads one UDP datagram (or times
// out), dispatches it, services any pending snapshot request, and ticks
// the timer on every timeout — the timeout cadence doubles as the
// once-a-minute timer. Run returns when ctx is canceled.
func (s *Server) Run(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, 4096)

	// This goroutine only ever touches the socket deadline, never a table,
	// so it does not break the single-goroutine-owns-state rule: it exists
	// solely to unblock the read below as soon as ctx is canceled, instead
	// of waiting out the full read timeout.
	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case reply := <-s.snapshotReq:
			reply <- s.snapshot()
			continue
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.tick()
				continue
			}
			s.logger.Printf("[recv] %v", err)
			continue
		}

		from := addr.String()
		datagram := append([]byte(nil), buf[:n]...)
		typ, body, err := wire.PeekType(datagram)
		if err != nil {
			continue
		}
		if typ.IsS2S() {
			s.dispatchS2S(typ, from, body)
			continue
		}
		s.dispatchClient(typ, from, body)
	}
}
