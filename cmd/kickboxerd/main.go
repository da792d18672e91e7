// Command kickboxerd wires a store, partitioner, cluster, and peer
// server into a runnable node process.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	logging "github.com/op/go-logging"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/cluster"
	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
	"github.com/bdeggleston/kickboxerdb-prototype/peerserver"
	"github.com/bdeggleston/kickboxerdb-prototype/store"
)

var logger = logging.MustGetLogger("kickboxerd")

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:4379", "address this node's peer server listens on")
		name     = flag.String("name", "", "human-readable node name")
		seeds    = flag.String("seeds", "", "comma-separated seed peer addresses")
		rf       = flag.Uint("replication-factor", 3, "replication factor")
		logLevel = flag.String("log-level", "INFO", "op/go-logging level name")
	)
	flag.Parse()

	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(
		"%{time:15:04:05.000} %{level:.4s} %{module}: %{message}",
	))
	level := logging.INFO
	if parsed, err := logging.LogLevel(*logLevel); err == nil {
		level = parsed
	}
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)

	if err := run(*addr, *name, *seeds, *rf); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(addr, name, seedList string, rf uint) error {
	var seeds []string
	for _, s := range strings.Split(seedList, ",") {
		if s = strings.TrimSpace(s); s != "" {
			seeds = append(seeds, s)
		}
	}

	p := partitioner.NewMD5Partitioner()
	s := store.NewMemStore()
	if err := s.Start(); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	cl, err := cluster.NewCluster(cluster.Config{
		Store:             s,
		Addr:              addr,
		Name:              name,
		Token:             p.RandomToken(),
		NodeID:            uuid.New(),
		ReplicationFactor: rf,
		Partitioner:       p,
		Seeds:             seeds,
		DialTimeout:       5 * time.Second,
		ResponseTimeout:   10 * time.Second,
		Retries:           3,
		MaxFanout:         50,
	})
	if err != nil {
		return fmt.Errorf("constructing cluster: %w", err)
	}

	srv := peerserver.NewServer(addr, cl, 30*time.Second)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting peer server: %w", err)
	}
	if err := cl.Start(); err != nil {
		return fmt.Errorf("starting cluster: %w", err)
	}
	logger.Infof("kickboxerd listening on %s (rf=%d)", addr, rf)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("shutting down")
	srv.Stop()
	return cl.Stop()
}
