package main

import (
	"context"
	"io"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shoepad/internal/config"
	"github.com/banshee-data/shoepad/internal/fsutil"
	"github.com/banshee-data/shoepad/internal/monitoring"
	"github.com/banshee-data/shoepad/internal/nn"
	"github.com/banshee-data/shoepad/internal/testutil"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func TestBuildOptions(t *testing.T) {
	epochs := 7
	folds := 3
	seed := int64(9)
	export := "out/model.pb"
	cfg := &config.Config{Epochs: &epochs, Folds: &folds, Seed: &seed, ModelDir: &export}
	fsys := fsutil.NewMemoryFileSystem()

	opts := buildOptions(cfg, fsys)
	assert.Equal(t, 0.2, opts.TestSize)
	assert.Equal(t, 3, opts.Folds)
	assert.Equal(t, int64(9), opts.Seed)
	assert.Equal(t, "out/model.pb", opts.ExportDir)
	assert.Equal(t, "data", opts.DataDir)
	assert.Equal(t, 7, opts.Training.Epochs)
	assert.Equal(t, 32, opts.Training.BatchSize)
	assert.Equal(t, int64(9), opts.Training.Seed)
	assert.Equal(t, "model_weights.cbor", opts.Training.CheckpointPath)
	assert.Same(t, fsys, opts.Training.FS)
	assert.Nil(t, opts.Store)
	assert.Nil(t, opts.Plotter)
}

func TestTrain_MissingData(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	cfg := &config.Config{}

	_, err := train(context.Background(), cfg, fsys, buildOptions(cfg, fsys))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load dataset")

	_, err = fsys.ReadFile("class_names.txt")
	assert.Error(t, err, "class names must not be written without a dataset")
}

func TestTrain_ExportsBestFold(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	testutil.WriteDataset(t, fsys, "data", 5, "heel", "toe")

	epochs, folds := 2, 2
	cfg := &config.Config{Epochs: &epochs, Folds: &folds}
	res, err := train(context.Background(), cfg, fsys, buildOptions(cfg, fsys))
	require.NoError(t, err)
	assert.Len(t, res.Folds, 2)
	assert.Equal(t, "model.pb", res.ExportPath)

	names, err := fsys.ReadFile("class_names.txt")
	require.NoError(t, err)
	assert.Equal(t, "heel\ntoe\n", string(names))

	exported, err := nn.LoadExported(fsys, "model.pb")
	require.NoError(t, err)
	assert.Equal(t, []string{"heel", "toe"}, exported.Classes)
}
