// Command sse_load opens many concurrent subscribers on the balance stream
// and reports how many snapshot and balance_change events they received.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	var (
		targetURL   string
		connections int
		duration    time.Duration
		rampUp      time.Duration
	)

	flag.StringVar(&targetURL, "url", "http://localhost:8080/balance/stream", "balance stream URL")
	flag.IntVar(&connections, "conns", 500, "number of concurrent subscribers")
	flag.DurationVar(&duration, "dur", time.Minute, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "spread subscriber starts across this window")
	flag.Parse()

	l, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	if connections <= 0 {
		l.Fatal("invalid conns", zap.Int("conns", connections))
	}
	if rampUp == 0 && connections > 100 {
		// 1s per 500 subscribers
		rampUp = max(time.Duration(connections/500)*time.Second, time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 100,
			MaxIdleConns:        connections + 100,
			MaxIdleConnsPerHost: connections + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	l.Info("starting balance stream load",
		zap.String("url", targetURL),
		zap.Int("conns", connections),
		zap.Duration("duration", duration),
		zap.Duration("ramp", rampUp),
	)

	st := &stats{}
	start := time.Now()
	go report(ctx, l, st, start)

	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(connections)
	}

	var wg sync.WaitGroup
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				continue
			case <-time.After(interval):
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			subscribe(ctx, client, targetURL, st)
		}()
	}
	wg.Wait()

	elapsed := max(time.Since(start), time.Millisecond)
	snap := st.snapshot()
	fmt.Printf("done: connected=%d connect_errs=%d stream_errs=%d snapshots=%d changes=%d pings=%d elapsed=%s events/s=%.2f\n",
		snap.connected, snap.connectErrs, snap.streamErrs, snap.snapshots, snap.changes, snap.pings,
		elapsed.Truncate(time.Millisecond),
		float64(snap.snapshots+snap.changes)/elapsed.Seconds(),
	)
}

func subscribe(ctx context.Context, client *http.Client, url string, st *stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		st.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		st.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		st.connectErrs.Add(1)
		return
	}
	st.connected.Add(1)

	if err := consume(resp.Body, st); err != nil && ctx.Err() == nil {
		st.streamErrs.Add(1)
	}
}

func report(ctx context.Context, l *zap.Logger, st *stats, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := st.snapshot()
			l.Info("status",
				zap.Int64("connected", snap.connected),
				zap.Int64("connect_errs", snap.connectErrs),
				zap.Int64("stream_errs", snap.streamErrs),
				zap.Int64("snapshots", snap.snapshots),
				zap.Int64("changes", snap.changes),
				zap.Int64("pings", snap.pings),
				zap.Duration("elapsed", time.Since(start).Truncate(time.Second)),
			)
		}
	}
}
