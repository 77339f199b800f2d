package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/floorsight-data/floorsight/internal/monitoring"
	"github.com/floorsight-data/floorsight/internal/track"
)

// UDPListenerConfig configures the datagram frame source. Each datagram
// carries one JSON-encoded frame.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Stats       *FrameStats
	Handler     Handler
}

// UDPListener receives frames over UDP from the capture collaborators.
type UDPListener struct {
	cfg   UDPListenerConfig
	stats *FrameStats
}

func NewUDPListener(cfg UDPListenerConfig) *UDPListener {
	stats := cfg.Stats
	if stats == nil {
		stats = NewFrameStats()
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	return &UDPListener{cfg: cfg, stats: stats}
}

// Start listens until the context is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", l.cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.cfg.Address, err)
	}
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			monitoring.Logf("ingest: set receive buffer to %d: %v", l.cfg.RcvBuf, err)
		}
	}
	monitoring.Logf("ingest: UDP listener started on %s", l.cfg.Address)

	go l.logLoop(ctx)

	buffer := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("ingest: UDP listener stopping")
			return ctx.Err()
		default:
			// Short deadline so cancellation is noticed between packets.
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			n, _, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Logf("ingest: UDP read error: %v", err)
				continue
			}
			l.handle(buffer[:n])
		}
	}
}

func (l *UDPListener) handle(payload []byte) {
	var f track.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		l.stats.AddMalformed()
		return
	}
	l.stats.AddFrame(len(payload))
	if err := l.cfg.Handler(&f); err != nil {
		l.stats.AddRejected()
		monitoring.Debugf("ingest: frame rejected: %v", err)
	}
}

func (l *UDPListener) logLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}
