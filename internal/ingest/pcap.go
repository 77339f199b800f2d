//go:build pcap

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/floorsight-data/floorsight/internal/monitoring"
	"github.com/floorsight-data/floorsight/internal/track"
)

// ReplayPCAP feeds recorded frame datagrams from a capture file, for
// replaying production traffic through the pipeline. With pace set, the
// inter-packet gaps of the capture are reproduced; otherwise packets are
// fed as fast as the pipeline accepts them. Only available when building
// with the 'pcap' build tag.
func ReplayPCAP(ctx context.Context, path string, udpPort int, pace bool, handler Handler, stats *FrameStats) error {
	if stats == nil {
		stats = NewFrameStats()
	}

	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return fmt.Errorf("open pcap %s: %w", path, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("set BPF filter %q: %w", filter, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := 0
	var lastCapture time.Time
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("ingest: pcap replay stopping (%d packets)", packets)
			return ctx.Err()
		case packet := <-source.Packets():
			if packet == nil {
				monitoring.Logf("ingest: pcap replay complete (%d packets)", packets)
				return nil
			}
			packets++

			if pace {
				captured := packet.Metadata().Timestamp
				if !lastCapture.IsZero() {
					if gap := captured.Sub(lastCapture); gap > 0 {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-time.After(gap):
						}
					}
				}
				lastCapture = captured
			}

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			payload := udpLayer.(*layers.UDP).Payload

			var f track.Frame
			if err := json.Unmarshal(payload, &f); err != nil {
				stats.AddMalformed()
				continue
			}
			stats.AddFrame(len(payload))
			if err := handler(&f); err != nil {
				stats.AddRejected()
			}
		}
	}
}
