// Package duckserver implements the DuckChat server core: the five state
// tables, the session and S2S request handlers, the federated traversal
// protocol, and the timer-driven liveness engine.
//
// The server is strictly single-threaded: one goroutine owns every table
// and the only suspension point is the UDP socket read. Concurrent readers
// (the admin HTTP surface) talk to it over a request/response channel
// rather than a mutex.
package duckserver

import (
	"crypto/rand"
	"encoding/binary"
	"log"
	"net"
	"os"
	"time"
)

// packetSender is the minimal interface needed to emit one datagram to one
// address. Using an interface here (rather than a concrete *net.UDPConn)
// lets tests inject a fake transport.
type packetSender interface {
	SendTo(addr string, data []byte) error
}

// udpSender sends over a real UDP socket.
type udpSender struct {
	conn *net.UDPConn
}

func (s udpSender) SendTo(addr string, data []byte) error {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(data, ua)
	return err
}

// Config configures a Server at construction time.
type Config struct {
	// SelfAddr is this server's own canonical "host:port", used for log
	// lines and reported in snapshots.
	SelfAddr string
	// Neighbors lists the adjacent servers configured at startup. The
	// mesh topology is static: there is no discovery.
	Neighbors []string
	// Logger receives one line per significant event. If nil, a logger
	// writing to standard output with log.LstdFlags is used.
	Logger *log.Logger
}

// Server is one DuckChat server instance: the socket, the five tables, and
// everything the handlers and timer engine need.
type Server struct {
	selfAddr string
	sender   packetSender
	tables   *tables
	logger   *log.Logger

	// minuteCounter counts timer ticks toward the next inactivity sweep
	// (wire.RefreshRate ticks per sweep).
	minuteCounter int

	// now is the injectable wall clock; tests replace it to control the
	// minute arithmetic deterministically.
	now func() time.Time

	// nextID draws a fresh 64-bit loop-suppression / traversal ID.
	// Defaults to a crypto/rand-backed source; tests replace it with a
	// deterministic sequence.
	nextID func() uint64

	// snapshotReq serves read-only state queries from the admin HTTP
	// surface without a mutex: the main loop answers them between packet
	// reads and timer ticks, the same message-passing pattern used for
	// hub/room designs in the wider ecosystem.
	snapshotReq chan chan Snapshot
}

// New constructs a Server bound to an already-open UDP socket. Callers
// typically obtain conn via net.ListenUDP and pass it here.
func New(conn *net.UDPConn, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}
	s := &Server{
		selfAddr:    cfg.SelfAddr,
		sender:      udpSender{conn: conn},
		tables:      newTables(),
		logger:      logger,
		now:         time.Now,
		nextID:      randomID,
		snapshotReq: make(chan chan Snapshot),
	}
	for _, addr := range cfg.Neighbors {
		s.tables.neighbors[addr] = newNeighbor(addr)
	}
	return s
}

// newForTest builds a Server around a fake sender, for handler-level unit
// tests that never touch a real socket.
func newForTest(sender packetSender) *Server {
	return &Server{
		selfAddr:    "127.0.0.1:4000",
		sender:      sender,
		tables:      newTables(),
		logger:      log.New(os.Stdout, "", 0),
		now:         time.Now,
		nextID:      randomID,
		snapshotReq: make(chan chan Snapshot),
	}
}

func randomID() uint64 {
	var b [8]byte
	// A weak PRNG would do given the 48-slot suppression window's low
	// collision tolerance; crypto/rand is used anyway since it is always
	// available and no faster source is needed here.
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand practically never fails; fall back to the wall
		// clock rather than leaving the ID at zero.
		binary.LittleEndian.PutUint64(b[:], uint64(time.Now().UnixNano()))
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (s *Server) logEvent(peer, direction, verb, args string) {
	s.logger.Printf("%s %s %s %s %s", s.selfAddr, peer, direction, verb, args)
}

func (s *Server) send(addr string, data []byte) {
	if err := s.sender.SendTo(addr, data); err != nil {
		s.logger.Printf("[send] %s: %v", addr, err)
	}
}

// minuteDiff computes the wrap-around-safe number of minutes elapsed from
// last to now, both given as a tm_min-style value in [0,60).
func minuteDiff(now, last int) int {
	if now >= last {
		return now - last
	}
	return (60 - last) + now
}

func (s *Server) currentMinute() int {
	return s.now().Minute()
}
