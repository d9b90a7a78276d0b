// Command duckchatd runs one DuckChat server instance: a UDP socket bound
// to <host>:<port>, federated with zero or more neighboring servers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"

	"github.com/google/uuid"

	"github.com/duckchat/duckchatd/internal/admin"
	"github.com/duckchat/duckchatd/internal/duckserver"
)

func main() {
	adminAddr := flag.String("admin-addr", "", "admin/diagnostics HTTP listen address (empty to disable)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 || len(args)%2 != 0 {
		fmt.Fprintln(os.Stderr, "usage: duckchatd [-admin-addr addr] <host> <port> [<neighbor_host> <neighbor_port>]...")
		os.Exit(1)
	}

	selfAddr := net.JoinHostPort(args[0], args[1])
	var neighbors []string
	for i := 2; i < len(args); i += 2 {
		neighbors = append(neighbors, net.JoinHostPort(args[i], args[i+1]))
	}

	instanceID := uuid.New()
	logger := log.New(os.Stdout, "", log.LstdFlags)
	logger.Printf("duckchatd instance=%s starting on %s, neighbors=%v", instanceID, selfAddr, neighbors)

	ua, err := net.ResolveUDPAddr("udp", selfAddr)
	if err != nil {
		logger.Fatalf("[server] resolve %s: %v", selfAddr, err)
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		logger.Fatalf("[server] listen %s: %v", selfAddr, err)
	}
	defer conn.Close()

	srv := duckserver.New(conn, duckserver.Config{
		SelfAddr:  selfAddr,
		Neighbors: neighbors,
		Logger:    logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Println("[server] shutting down...")
		cancel()
	}()

	if *adminAddr != "" {
		a := admin.New(srv, instanceID, logger)
		go func() {
			if err := a.Run(ctx, *adminAddr); err != nil {
				logger.Printf("[admin] %v", err)
			}
		}()
		logger.Printf("[admin] listening on %s", *adminAddr)
	}

	if err := srv.Run(ctx, conn); err != nil {
		logger.Fatalf("[server] %v", err)
	}
	logger.Println("[server] stopped")
}
