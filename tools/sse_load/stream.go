package main

import (
	"bufio"
	"io"
	"strings"
	"sync/atomic"

	"github.com/vadiminshakov/balancecache/internal/events"
)

type stats struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	snapshots   atomic.Int64
	changes     atomic.Int64
	pings       atomic.Int64
}

type statsSnapshot struct {
	connected, connectErrs, streamErrs int64
	snapshots, changes, pings          int64
}

func (s *stats) snapshot() statsSnapshot {
	return statsSnapshot{
		connected:   s.connected.Load(),
		connectErrs: s.connectErrs.Load(),
		streamErrs:  s.streamErrs.Load(),
		snapshots:   s.snapshots.Load(),
		changes:     s.changes.Load(),
		pings:       s.pings.Load(),
	}
}

// consume reads SSE frames until r is exhausted and counts them by event name.
func consume(r io.Reader, st *stats) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			st.pings.Add(1)
		case strings.HasPrefix(line, "event:"):
			switch events.Kind(strings.TrimSpace(strings.TrimPrefix(line, "event:"))) {
			case events.KindSnapshot:
				st.snapshots.Add(1)
			case events.KindBalanceChange:
				st.changes.Add(1)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
