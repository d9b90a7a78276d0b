package duckserver_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/duckchat/duckchatd/internal/duckclient"
	"github.com/duckchat/duckchatd/internal/duckserver"
)

func startServer(t *testing.T, neighbors []string) (*duckserver.Server, string, func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	addr := conn.LocalAddr().String()

	srv := duckserver.New(conn, duckserver.Config{SelfAddr: addr, Neighbors: neighbors})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run(ctx, conn)
	}()

	stop := func() {
		cancel()
		<-done
		conn.Close()
	}
	return srv, addr, stop
}

// TestCrossServerSayDelivers is a cross-server SAY scenario: two federated
// servers, one local user on each, joined to the same channel; a message
// said on one server arrives at the user on the other.
func TestCrossServerSayDelivers(t *testing.T) {
	// Start server B first so we know its address to hand to A as a neighbor.
	_, addrB, stopB := startServer(t, nil)
	defer stopB()

	_, addrA, stopA := startServer(t, []string{addrB})
	defer stopA()

	// Server B doesn't know about A until A's first JOIN floods to it; wire
	// it up as a static neighbor too so S2S_JOIN has somewhere to land.
	stopB()
	_, addrB, stopB = startServerAt(t, addrB, []string{addrA})
	defer stopB()

	alice, err := duckclient.Dial(addrA)
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer alice.Close()
	bob, err := duckclient.Dial(addrB)
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer bob.Close()

	mustOK(t, alice.Login("alice"))
	mustOK(t, bob.Login("bob"))
	mustOK(t, alice.Join("dev"))
	mustOK(t, bob.Join("dev"))

	// Give the S2S_JOIN flood a moment to land before saying anything.
	time.Sleep(200 * time.Millisecond)

	mustOK(t, alice.Say("dev", "hello from alice"))

	msg, err := bob.ExpectSay(2 * time.Second)
	if err != nil {
		t.Fatalf("bob did not receive the cross-server SAY: %v", err)
	}
	if msg.Channel != "dev" || msg.Username != "alice" || msg.Text != "hello from alice" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func startServerAt(t *testing.T, addr string, neighbors []string) (*duckserver.Server, string, func()) {
	t.Helper()
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}

	srv := duckserver.New(conn, duckserver.Config{SelfAddr: addr, Neighbors: neighbors})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run(ctx, conn)
	}()

	stop := func() {
		cancel()
		<-done
		conn.Close()
	}
	return srv, addr, stop
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestSingleServerVerify exercises VERIFY with no mesh: a fresh name comes
// back valid, a colliding one does not.
func TestSingleServerVerify(t *testing.T) {
	_, addr, stop := startServer(t, nil)
	defer stop()

	c := mustDial(t, addr)
	defer c.Close()
	mustOK(t, c.Login("alice"))

	checker := mustDial(t, addr)
	defer checker.Close()
	mustOK(t, checker.Verify("alice"))
	reply, err := checker.ExpectVerify(2 * time.Second)
	if err != nil {
		t.Fatalf("ExpectVerify: %v", err)
	}
	if reply.Valid {
		t.Fatal("expected Valid=false for a name already in use")
	}

	mustOK(t, checker.Verify("someone-new"))
	reply, err = checker.ExpectVerify(2 * time.Second)
	if err != nil {
		t.Fatalf("ExpectVerify: %v", err)
	}
	if !reply.Valid {
		t.Fatal("expected Valid=true for a fresh name")
	}
}

func mustDial(t *testing.T, addr string) *duckclient.Client {
	t.Helper()
	c, err := duckclient.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return c
}
