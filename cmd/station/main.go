package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"
)

func main() {
	var (
		configPath  string
		dataDir     string
		brokerURL   string
		clientID    string
		ntpServers  string
		listenAddr  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "station.yaml", "Path to YAML configuration file")
	flag.StringVar(&dataDir, "data-dir", "./data", "Root directory for day-indexed JSONL persistence")
	flag.StringVar(&brokerURL, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&clientID, "client-id", "station-01", "Station identifier used in MQTT topics and broadcast payloads")
	flag.StringVar(&ntpServers, "ntp-servers", "pool.ntp.org,time.google.com,time.cloudflare.com", "Comma separated NTP servers, tried in round-robin order")
	flag.StringVar(&listenAddr, "listen", ":8080", "HTTP listen address for /ws, /metrics, /healthz")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("seismograph station")
		return
	}

	opts := Options{
		ConfigPath: configPath,
		DataDir:    dataDir,
		BrokerURL:  brokerURL,
		ClientID:   clientID,
		NTPServers: splitTrim(ntpServers),
	}

	station, err := NewStation(opts)
	if err != nil {
		log.Fatalf("construct station: %v", err)
	}
	defer station.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	station.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", station.wsServer)
	mux.Handle("/metrics", station.metrics.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := station.evaluator.Evaluate(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if snap.Overall != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snap)
	})

	srv := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("station %s listening on %s (broker=%s, data-dir=%s)", clientID, listenAddr, brokerURL, dataDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
}

func splitTrim(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
