package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"PCIeSpectra/internal/config"
	"PCIeSpectra/internal/probe"
	"PCIeSpectra/pkg/tlpstream"
)

func main() {
	mode := flag.String("mode", "sub", "Operating mode: 'pub' to replay a stream file to NATS, 'sub' to subscribe and print.")
	file := flag.String("file", "", "TLP stream file to publish (required for pub mode).")
	configPath := flag.String("config", "configs/config.yaml", "Path to the engine config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch *mode {
	case "pub":
		runProbe(cfg, *file)
	case "sub":
		runSubscriber(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runProbe publishes the chunks of a recorded stream file, standing in for
// a live interposer front-end.
func runProbe(cfg *config.Config, file string) {
	if file == "" {
		log.Println("Error: -file flag is required for pub mode.")
		flag.Usage()
		os.Exit(1)
	}
	log.Printf("Starting ps-probe in PUB mode with stream file: %s", file)

	pub, err := probe.NewPublisher(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	reader, err := tlpstream.NewReader(file)
	if err != nil {
		log.Fatalf("Failed to open stream file: %v", err)
	}
	defer reader.Close()

	chunks := make(chan *tlpstream.Chunk, 64)
	go reader.ReadChunks(chunks)

	published := 0
	for chunk := range chunks {
		if err := pub.Publish(chunk); err != nil {
			log.Printf("Failed to publish chunk: %v", err)
			continue
		}
		published++
		if published%1000 == 0 {
			log.Printf("%d chunks published...", published)
		}
	}
	log.Printf("Done, %d chunks published.", published)
}

// runSubscriber prints a summary of every received chunk.
func runSubscriber(cfg *config.Config) {
	log.Println("Starting ps-probe in SUBSCRIBER mode...")

	sub, err := probe.NewSubscriber(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(chunk *tlpstream.Chunk) {
		log.Printf("Chunk: cycle=%d symbols=%d link_up=%v lanes=%d",
			chunk.Cycle, len(chunk.Symbols), chunk.Link.Up, chunk.Link.Lanes)
	}
	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}
