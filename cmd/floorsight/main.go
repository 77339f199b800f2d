// Command floorsight runs the retail floor analytics pipeline: it ingests
// tracked frames, detects interactions, queue waits and unattended
// customers, records evidence clips around them, and keeps the analytics
// database current.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/floorsight-data/floorsight/internal/analytics"
	"github.com/floorsight-data/floorsight/internal/config"
	"github.com/floorsight-data/floorsight/internal/fsutil"
	"github.com/floorsight-data/floorsight/internal/ingest"
	"github.com/floorsight-data/floorsight/internal/monitoring"
	"github.com/floorsight-data/floorsight/internal/pipeline"
	"github.com/floorsight-data/floorsight/internal/track"
	"github.com/floorsight-data/floorsight/internal/upload"
)

var (
	dbFile      = flag.String("db", "floorsight.db", "Path to the SQLite analytics database")
	configFile  = flag.String("config", "", "Path to the tuning config JSON (defaults apply when empty)")
	source      = flag.String("source", "", "NDJSON frame file to replay ('-' for stdin)")
	listenUDP   = flag.String("listen-udp", "", "UDP address to receive frame datagrams on (e.g. :9999)")
	pcapFile    = flag.String("pcap", "", "Recorded pcap capture to replay (requires -tags pcap build)")
	pcapPort    = flag.Int("pcap-port", 9999, "UDP port to filter when replaying pcap captures")
	pcapPace    = flag.Bool("pcap-realtime", false, "Reproduce the capture's inter-packet timing during pcap replay")
	segmentDir  = flag.String("segments", "", "Clip directory (overrides the config value)")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	logInterval = flag.Int("log-interval", 60, "Ingest statistics logging interval in seconds")
	verbose     = flag.Bool("verbose", false, "Enable debug logging")
	drainWait   = flag.Duration("drain", 30*time.Second, "How long shutdown waits for pending uploads")
)

func main() {
	flag.Parse()
	monitoring.Verbose = *verbose

	cfg := config.EmptyTuningConfig()
	if *configFile != "" {
		loaded, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configFile, err)
		}
		cfg = loaded
	}
	if *segmentDir != "" {
		cfg.SegmentDir = segmentDir
	}

	sources := 0
	for _, s := range []string{*source, *listenUDP, *pcapFile} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		log.Fatal("Exactly one of -source, -listen-udp or -pcap is required")
	}

	store, err := analytics.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open analytics database: %v", err)
	}
	defer store.Close()

	fsys := fsutil.OSFileSystem{}
	uploader := upload.NewHTTPUploader(upload.Config{
		UploadURL:   cfg.GetUploadURL(),
		IncidentURL: cfg.GetIncidentURL(),
		APIKey:      cfg.GetAPIKey(),
		BranchID:    cfg.GetBranchID(),
		Location:    cfg.GetLocation(),
	}, &http.Client{Timeout: 60 * time.Second}, fsys)

	linker := analytics.NewLinker(store)
	pool := upload.NewPool(upload.PoolConfig{
		Workers:    cfg.GetUploadWorkers(),
		QueueDepth: cfg.GetUploadQueueDepth(),
		Attempts:   cfg.GetUploadAttempts(),
		Backoff:    cfg.GetUploadBackoff(),
	}, uploader, fsys, func(c upload.Completion) {
		if err := linker.Apply(analytics.Evidence{
			SegmentID:   c.SegmentID,
			EventIDs:    c.TriggerEventIDs,
			UploadedRef: c.UploadedRef,
			URL:         c.URL,
			IncidentID:  c.IncidentID,
			Time:        c.UploadTime,
		}); err != nil {
			monitoring.Logf("evidence link failed: %v", err)
		}
	})

	manager := pipeline.NewManager(cfg, store, pool, fsys)

	summaries := analytics.NewSummaryWorker(store, cfg.GetSummaryInterval())
	summaries.Start()
	defer summaries.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.Start(ctx)

	stats := ingest.NewFrameStats()
	handler := func(f *track.Frame) error {
		_, err := manager.ProcessFrame(f)
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		switch {
		case *source != "":
			err = runFileSource(ctx, *source, handler, stats)
			// A finished replay is a clean exit; stop the main loop too.
			stop()
		case *listenUDP != "":
			listener := ingest.NewUDPListener(ingest.UDPListenerConfig{
				Address:     *listenUDP,
				RcvBuf:      *rcvBuf,
				LogInterval: time.Duration(*logInterval) * time.Second,
				Stats:       stats,
				Handler:     handler,
			})
			err = listener.Start(ctx)
		case *pcapFile != "":
			err = ingest.ReplayPCAP(ctx, *pcapFile, *pcapPort, *pcapPace, handler, stats)
			stop()
		}
		if err != nil && err != context.Canceled {
			log.Printf("Frame source error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("Shutting down...")
	wg.Wait()

	// Finalize in-flight clips before the upload queue closes, so the
	// shutdown drain covers them too.
	if err := manager.Close(time.Now()); err != nil {
		log.Printf("Failed to finalize recordings: %v", err)
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), *drainWait)
	defer cancel()
	if err := pool.Shutdown(drainCtx); err != nil {
		log.Printf("Upload drain incomplete: %v (clips remain on disk)", err)
	}

	stats.LogStats()
	for id, s := range manager.Stats() {
		log.Printf("Stream %s: %d frames, %d events, %d segments, %d dropped tracks",
			id, s.Frames, s.Events, s.Segments, s.DroppedTracks)
	}
}

func runFileSource(ctx context.Context, path string, handler ingest.Handler, stats *ingest.FrameStats) error {
	if path == "-" {
		return ingest.ReadNDJSON(ctx, os.Stdin, handler, stats)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open frame source: %w", err)
	}
	defer f.Close()
	return ingest.ReadNDJSON(ctx, f, handler, stats)
}
