package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"pucrs/tokenring/common"
	"pucrs/tokenring/config"
	"pucrs/tokenring/ring"
	"pucrs/tokenring/tokenring"
	"pucrs/tokenring/trace"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logrus.Errorf("Usage: %s [-v] [-config file] [flags] [<address:port> <address:port>...]: %v", os.Args[0], err)
		os.Exit(1)
	}
	setLogger(cfg.Verbose)

	r, err := ring.NewRing(cfg.Processes, ring.ID(cfg.Holder))
	if err != nil {
		logrus.Errorf("Failed to build the ring: %v", err)
		os.Exit(1)
	}

	if err := run(cfg, r); err != nil {
		logrus.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, r *ring.Ring) error {
	// open file that all processes write to inside the critical section
	out, err := os.OpenFile(cfg.OutFile, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := os.Remove(cfg.TraceFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	rec, err := trace.NewRecorder(cfg.TraceFile)
	if err != nil {
		return err
	}
	logrus.Infof("Recording run %s to %s", rec.RunID(), rec.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	allServed := make(chan struct{})
	var (
		served    atomic.Int64
		closeOnce sync.Once
		total     = int64(cfg.Requests * r.Size())
	)
	hook := func(ev common.Event) {
		rec.Record(ev)
		if ev.Kind == common.EventExit && served.Add(1) == total {
			closeOnce.Do(func() { close(allServed) })
		}
	}

	opts := []tokenring.Option{
		tokenring.WithLogger(logrus.NewEntry(logrus.StandardLogger())),
		tokenring.WithHook(hook),
		tokenring.WithHopDelay(cfg.HopDelay),
		tokenring.WithCriticalSection(writeMarks(out, cfg.CSTime)),
	}

	var cluster *tokenring.Cluster
	if len(cfg.Addresses) > 0 {
		cluster, err = tokenring.NewTCPCluster(ctx, r, cfg.Addresses, opts...)
	} else {
		cluster, err = tokenring.NewCluster(r, opts...)
	}
	if err != nil {
		return err
	}

	cluster.Start(ctx)
	for _, id := range r.IDs() {
		go worker(ctx, cluster, id, cfg.Requests, cfg.CSTime)
	}

	terminate(allServed, cfg.Requests > 0)
	cancel()
	runErr := cluster.Wait()
	rec.Close()

	holders := common.Count(cluster.Snapshots(), func(s tokenring.Snapshot) bool { return s.HoldsToken })
	logrus.Infof("Served %d requests, token held by %d process(es) at shutdown", served.Load(), holders)
	if holders != 1 && len(cfg.Addresses) == 0 {
		logrus.Warnf("Expected exactly one token holder after shutdown, found %d", holders)
	}
	if runErr != nil {
		return runErr
	}
	return verify(cfg, r)
}

// worker plays the application using one process: it asks for the critical
// section `requests` times at random intervals, or forever if requests is 0.
func worker(ctx context.Context, c *tokenring.Cluster, id ring.ID, requests int, csTime time.Duration) {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	for i := 0; requests == 0 || i < requests; i++ {
		pause := time.Duration(rnd.Int63n(int64(3*csTime) + 1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
		if err := c.RequestCS(id); err != nil {
			logrus.Errorf("P%d: %v", id, err)
			return
		}
	}
}

// writeMarks writes an entry mark, holds the critical section for d, then
// writes an exit mark.
func writeMarks(file *os.File, d time.Duration) tokenring.CriticalSection {
	return func(ctx context.Context, id ring.ID, req tokenring.Request) {
		if _, err := file.WriteString("|"); err != nil {
			logrus.Errorf("P%d: error writing to file: %v", id, err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(d):
		}
		if _, err := file.WriteString("."); err != nil {
			logrus.Errorf("P%d: error writing to file: %v", id, err)
		}
	}
}

func setLogger(verbose bool) {
	loggingLevel := logrus.InfoLevel
	if verbose {
		loggingLevel = logrus.DebugLevel
	}
	logrus.SetLevel(loggingLevel)
}

// terminate blocks until a termination signal is received or, when bounded,
// until every request was served.
func terminate(allServed <-chan struct{}, bounded bool) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if !bounded {
		allServed = nil
	}

	select {
	case sig := <-sigChan:
		logrus.Infof("Received '%s' signal. Exiting...", sig)
	case <-allServed:
		logrus.Infof("All requests served. Exiting...")
	}
}

func verify(cfg config.Config, r *ring.Ring) error {
	logrus.Infof("Checking %s...", cfg.OutFile)
	if err := trace.CheckOutFile(cfg.OutFile); err != nil {
		return err
	}

	logrus.Infof("Parsing and verifying %s...", cfg.TraceFile)
	parser, err := trace.NewParser(cfg.TraceFile, r.Size())
	if err != nil {
		return err
	}
	if err := parser.Verify(); err != nil {
		return err
	}
	logrus.Infof("No inconsistencies detected in %d events!", len(parser.Events()))
	return nil
}
