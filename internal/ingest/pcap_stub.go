//go:build !pcap

package ingest

import (
	"context"
	"errors"
)

// ReplayPCAP is unavailable without the 'pcap' build tag, which needs
// libpcap at build time.
func ReplayPCAP(_ context.Context, _ string, _ int, _ bool, _ Handler, _ *FrameStats) error {
	return errors.New("pcap support not built in (rebuild with -tags pcap)")
}
