package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/shoepad/internal/config"
	"github.com/banshee-data/shoepad/internal/crossval"
	"github.com/banshee-data/shoepad/internal/dataset"
	"github.com/banshee-data/shoepad/internal/db"
	"github.com/banshee-data/shoepad/internal/fsutil"
	"github.com/banshee-data/shoepad/internal/plots"
	"github.com/banshee-data/shoepad/internal/timeutil"
	"github.com/banshee-data/shoepad/internal/training"
)

var (
	configFile = flag.String("config", "", "Path to JSON config file")
	dataDir    = flag.String("data", "", "Directory of labelled JSON recordings (default data)")
	exportDir  = flag.String("export", "", "Directory to export the best model to (default model.pb)")
	plotDir    = flag.String("plots", "", "Directory for training curve PNGs (disabled when empty)")
	dbFile     = flag.String("db", "", "SQLite database for run history (default shoepad.db)")
	noDB       = flag.Bool("no-db", false, "Do not record the run in the database")
	epochs     = flag.Int("epochs", 0, "Maximum epochs per fold (default 1000)")
	verbose    = flag.Bool("verbose", false, "Log every epoch")
	jsonOut    = flag.Bool("json", false, "Print the result as JSON")
)

// buildOptions maps the configuration onto cross-validation options.
func buildOptions(cfg *config.Config, fsys fsutil.FileSystem) crossval.Options {
	return crossval.Options{
		TestSize:  cfg.GetTestSize(),
		Folds:     cfg.GetFolds(),
		Seed:      cfg.GetSeed(),
		ExportDir: cfg.GetModelDir(),
		DataDir:   cfg.GetDataDir(),
		Training: training.Config{
			Epochs:         cfg.GetEpochs(),
			BatchSize:      cfg.GetBatchSize(),
			CheckpointPath: cfg.GetCheckpointPath(),
			Seed:           cfg.GetSeed(),
			FS:             fsys,
			Verbose:        *verbose,
		},
	}
}

// train loads the dataset, writes the class names and cross-validates.
func train(ctx context.Context, cfg *config.Config, fsys fsutil.FileSystem, opts crossval.Options) (*crossval.Result, error) {
	ds, err := dataset.Load(fsys, cfg.GetDataDir())
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	if err := dataset.WriteClassNames(fsys, cfg.GetClassNamesPath(), ds.Classes); err != nil {
		return nil, err
	}
	return crossval.Run(ctx, ds, opts)
}

func main() {
	flag.Parse()

	cfg := &config.Config{}
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = dataDir
	}
	if *exportDir != "" {
		cfg.ModelDir = exportDir
	}
	if *plotDir != "" {
		cfg.PlotDir = plotDir
	}
	if *dbFile != "" {
		cfg.DBPath = dbFile
	}
	if *epochs > 0 {
		cfg.Epochs = epochs
	}

	fsys := fsutil.OSFileSystem{}
	opts := buildOptions(cfg, fsys)

	if !*noDB {
		database, err := db.NewDB(cfg.GetDBPath())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		opts.Store = db.NewRunStore(database, timeutil.RealClock{})
	}
	if cfg.GetPlotDir() != "" {
		plotter, err := plots.NewHistoryPlotter(cfg.GetPlotDir())
		if err != nil {
			log.Fatalf("Failed to create plotter: %v", err)
		}
		opts.Plotter = plotter
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := train(ctx, cfg, fsys, opts)
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatalf("Failed to encode result: %v", err)
		}
		return
	}
	fmt.Printf("best fold %d, test loss %.4f, exported to %s\n", res.BestFold, res.BestLoss, res.ExportPath)
	fmt.Printf("loss %.4f ± %.4f, accuracy %.4f ± %.4f over %d folds\n",
		res.Summary.MeanLoss, res.Summary.StdLoss, res.Summary.MeanAcc, res.Summary.StdAcc, len(res.Folds))
	if res.RunID != "" {
		fmt.Printf("run id %s\n", res.RunID)
	}
}
