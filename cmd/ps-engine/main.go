package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PCIeSpectra/internal/api"
	"PCIeSpectra/internal/config"
	"PCIeSpectra/internal/engine/manager"
	"PCIeSpectra/internal/export"
	"PCIeSpectra/internal/model"
	"PCIeSpectra/internal/probe"
	"PCIeSpectra/pkg/tlpstream"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the engine config file")
	streamFile := flag.String("file", "", "Replay a TLP stream file instead of subscribing to NATS")
	flag.Parse()

	log.Println("Starting ps-engine...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	// Export channel: live stream plus acknowledged batch drain.
	streamExp, err := export.NewNATSExporter(cfg.NATS, false)
	if err != nil {
		log.Fatalf("Failed to create stream exporter: %v", err)
	}
	drainExp, err := export.NewNATSExporter(cfg.NATS, true)
	if err != nil {
		log.Fatalf("Failed to create drain exporter: %v", err)
	}

	var sinks []model.Sink
	if cfg.Pcap.Enabled {
		sink, err := export.NewPcapSink(cfg.Pcap.Path)
		if err != nil {
			log.Fatalf("Failed to create pcap sink: %v", err)
		}
		sinks = append(sinks, sink)
		log.Printf("Pcap sink enabled at %s", cfg.Pcap.Path)
	}
	if cfg.ClickHouse.Enabled {
		sink, err := export.NewClickHouseSink(cfg.ClickHouse)
		if err != nil {
			log.Fatalf("Failed to create ClickHouse sink: %v", err)
		}
		sinks = append(sinks, sink)
	}

	mgr, err := manager.NewManager(cfg, streamExp, drainExp, sinks)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	mgr.Start()

	// Upstream input: NATS chunks from a probe, or a stream file replay.
	var sub *probe.Subscriber
	if *streamFile != "" {
		go replayFile(*streamFile, mgr)
	} else {
		sub, err = probe.NewSubscriber(cfg.NATS)
		if err != nil {
			log.Fatalf("Failed to create chunk subscriber: %v", err)
		}
		input := mgr.Input()
		err = sub.Start(func(chunk *tlpstream.Chunk) {
			select {
			case input <- chunk:
			default:
				// The intake queue is the fixed-depth stage boundary; a
				// saturated pipeline sheds chunks instead of stalling the
				// transport.
				log.Println("Intake queue full, chunk dropped.")
			}
		})
		if err != nil {
			log.Fatalf("Subscriber failed to start: %v", err)
		}
	}

	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewRouter(mgr),
	}
	go func() {
		log.Printf("Control API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("API server shutdown: %v", err)
	}
	if sub != nil {
		sub.Close()
	}
	mgr.Stop()
	log.Println("Shutdown complete.")
}

// replayFile feeds a recorded stream file into the pipeline.
func replayFile(path string, mgr *manager.Manager) {
	reader, err := tlpstream.NewReader(path)
	if err != nil {
		log.Fatalf("Failed to open stream file: %v", err)
	}
	defer reader.Close()

	chunks := make(chan *tlpstream.Chunk, 64)
	go reader.ReadChunks(chunks)
	input := mgr.Input()
	count := 0
	for chunk := range chunks {
		input <- chunk
		count++
	}
	log.Printf("Replayed %d chunks from %s", count, path)
}
