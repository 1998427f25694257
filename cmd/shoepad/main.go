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

	"github.com/banshee-data/shoepad/internal/api"
	"github.com/banshee-data/shoepad/internal/broker"
	"github.com/banshee-data/shoepad/internal/classify"
	"github.com/banshee-data/shoepad/internal/config"
	"github.com/banshee-data/shoepad/internal/db"
	"github.com/banshee-data/shoepad/internal/discovery"
	"github.com/banshee-data/shoepad/internal/fsutil"
	"github.com/banshee-data/shoepad/internal/nn"
	"github.com/banshee-data/shoepad/internal/recording"
	"github.com/banshee-data/shoepad/internal/sensor"
	"github.com/banshee-data/shoepad/internal/timeutil"
	"github.com/banshee-data/shoepad/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to JSON config file")
	listen        = flag.String("listen", "", "HTTP listen address (default :8080)")
	dbFile        = flag.String("db", "", "Path to the SQLite database file (default shoepad.db)")
	serialPort    = flag.String("serial", "", "Serial port of a wired insole (disabled when empty)")
	modelDir      = flag.String("model", "", "Exported model directory (default model.pb)")
	recordingsDir = flag.String("recordings", "", "Directory for recordings (default recordings)")
	noDiscovery   = flag.Bool("no-discovery", false, "Skip the discovery probe and always start the local broker")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), `shoepad - insole sensor service

Usage:
  shoepad [flags]                 run the service
  shoepad [flags] migrate <cmd>   manage the database schema

Flags:
`)
	flag.PrintDefaults()
}

// loadConfig reads the config file when one is given and applies the
// command-line overrides on top.
func loadConfig(path string, overrides map[string]string) (*config.Config, error) {
	cfg := &config.Config{}
	if path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}
	set := func(dst **string, key string) {
		if v := overrides[key]; v != "" {
			*dst = &v
		}
	}
	set(&cfg.HTTPListen, "listen")
	set(&cfg.DBPath, "db")
	set(&cfg.SerialPort, "serial")
	set(&cfg.ModelDir, "model")
	set(&cfg.RecordingsDir, "recordings")
	return cfg, nil
}

// loadClassifier loads the exported model. A missing model disables live
// classification rather than the service.
func loadClassifier(fsys fsutil.FileSystem, cfg *config.Config, store classify.ResultStore) *classify.Worker {
	model, err := nn.LoadExported(fsys, cfg.GetModelDir())
	if err != nil {
		log.Printf("[classify] live classification disabled: %v", err)
		return nil
	}
	log.Printf("[classify] loaded model from %s with classes %v", cfg.GetModelDir(), model.Classes)
	return classify.NewWorker(classify.Config{
		Model:      model,
		WindowSize: cfg.GetWindowSize(),
		Store:      store,
		ModelDir:   cfg.GetModelDir(),
	})
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configFile, map[string]string{
		"listen":     *listen,
		"db":         *dbFile,
		"serial":     *serialPort,
		"model":      *modelDir,
		"recordings": *recordingsDir,
	})
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(os.Stdout, flag.Args()[1:], cfg.GetDBPath()); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", flag.Arg(0))
			printUsage()
			os.Exit(1)
		}
	}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	runs := db.NewRunStore(database, timeutil.RealClock{})

	osfs := fsutil.OSFileSystem{}
	mux := sensor.NewMux()
	store := sensor.NewStore(cfg.GetBufferCapacity())
	settings := config.LoadSettings(osfs, cfg.GetSettingsPath())
	recorder := recording.NewRecorder(recording.Config{
		FS:   osfs,
		Dir:  cfg.GetRecordingsDir(),
		Tick: cfg.GetReplayTick(),
		OnReplayFinished: func() {
			log.Printf("[replay] finished")
		},
	})
	worker := loadClassifier(osfs, cfg, runs)

	// Create a wait group for the HTTP server, discovery, broker and
	// sensor routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// fan readings out to the buffers, the recorder and the classifier
	_, storeCh := mux.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.Consume(storeCh)
	}()
	_, recCh := mux.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		recorder.Consume(recCh)
	}()

	var localBroker *broker.Broker
	var brokerMu sync.Mutex
	startLocal := func() error {
		b, err := broker.New(broker.Config{Address: cfg.GetMQTTListen(), Sink: mux})
		if err != nil {
			return err
		}
		if err := b.Start(ctx); err != nil {
			return err
		}
		brokerMu.Lock()
		localBroker = b
		brokerMu.Unlock()

		srv := discovery.NewServer(discovery.ServerConfig{Address: cfg.GetDiscoveryListen()})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("[discovery] server error: %v", err)
			}
		}()
		return nil
	}

	brokerHost := "localhost"
	if *noDiscovery {
		if err := startLocal(); err != nil {
			log.Fatalf("Failed to start broker: %v", err)
		}
	} else {
		brokerHost, err = discovery.Locate(ctx, cfg.GetDiscoveryTimeout(), startLocal)
		if err != nil {
			log.Fatalf("Failed to locate broker: %v", err)
		}
		if brokerHost != "localhost" {
			log.Printf("[discovery] broker runs on %s; not starting a local broker", brokerHost)
		}
	}

	if worker != nil {
		_, clsCh := mux.Subscribe()
		wg.Add(3)
		go func() {
			defer wg.Done()
			worker.Consume(ctx, clsCh)
		}()
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case res := <-worker.Results():
					log.Printf("[classify] %s (%.2f)", res.Label, res.Confidence)
					brokerMu.Lock()
					b := localBroker
					brokerMu.Unlock()
					if b != nil {
						if err := b.Publish(broker.ClassTopic, []byte(res.Label)); err != nil {
							log.Printf("[classify] failed to publish result: %v", err)
						}
					}
				}
			}
		}()
	}

	if cfg.GetSerialPort() != "" {
		src, err := sensor.OpenSerialSource(cfg.GetSerialPort(), sensor.PortOptions{BaudRate: cfg.GetSerialBaudRate()}, mux)
		if err != nil {
			log.Fatalf("Failed to open serial source: %v", err)
		}
		defer src.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("[serial] monitor error: %v", err)
			}
			log.Print("[serial] monitor routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiCfg := api.Config{
			Store:      store,
			Recorder:   recorder,
			ReplaySink: mux.Publish,
			Runs:       runs,
			Settings:   settings,
			BrokerHost: brokerHost,
		}
		if worker != nil {
			apiCfg.Classifier = worker
		}
		brokerMu.Lock()
		if localBroker != nil {
			apiCfg.Devices = localBroker
		}
		brokerMu.Unlock()

		httpMux := api.NewServer(apiCfg).ServeMux()
		mux.AttachAdminRoutes(httpMux)
		database.AttachAdminRoutes(httpMux)

		server := &http.Server{
			Addr:    cfg.GetHTTPListen(),
			Handler: api.LoggingMiddleware(httpMux),
		}

		go func() {
			log.Printf("[http] listening on %s", cfg.GetHTTPListen())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	// closing the mux ends the buffer and recorder consumers
	go func() {
		<-ctx.Done()
		if recorder.State() == recording.StateReplaying {
			_ = recorder.StopReplay()
		}
		brokerMu.Lock()
		if localBroker != nil {
			localBroker.Close()
		}
		brokerMu.Unlock()
		mux.Close()
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
