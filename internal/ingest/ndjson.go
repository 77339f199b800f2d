package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/floorsight-data/floorsight/internal/monitoring"
	"github.com/floorsight-data/floorsight/internal/track"
)

// Handler consumes one decoded frame. A returned error rejects the frame
// but does not stop the source.
type Handler func(*track.Frame) error

// maxFrameLine bounds one NDJSON line; a frame with an encoded image can
// run to megabytes.
const maxFrameLine = 32 << 20

// ReadNDJSON decodes one frame per line from r and hands each to the
// handler until EOF or context cancellation. Malformed lines are counted
// and skipped.
func ReadNDJSON(ctx context.Context, r io.Reader, handler Handler, stats *FrameStats) error {
	if stats == nil {
		stats = NewFrameStats()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameLine)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var f track.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			stats.AddMalformed()
			monitoring.Debugf("ingest: line %d: %v", line, err)
			continue
		}
		stats.AddFrame(len(raw))
		if err := handler(&f); err != nil {
			stats.AddRejected()
			monitoring.Logf("ingest: line %d rejected: %v", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read frames: %w", err)
	}
	return nil
}
