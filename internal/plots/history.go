// Package plots renders training curves as PNG files.
package plots

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/shoepad/internal/training"
)

var (
	trainColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	valColor   = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	lrColor    = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// HistoryPlotter writes per-fold loss, accuracy and learning rate curves.
type HistoryPlotter struct {
	mu        sync.Mutex
	outputDir string
	written   []string
}

// NewHistoryPlotter returns a plotter that writes into outputDir, creating
// it if needed.
func NewHistoryPlotter(outputDir string) (*HistoryPlotter, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("no output directory configured")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &HistoryPlotter{outputDir: outputDir}, nil
}

// OutputDir returns the directory plots are written to.
func (hp *HistoryPlotter) OutputDir() string { return hp.outputDir }

// Written returns every file produced so far.
func (hp *HistoryPlotter) Written() []string {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return append([]string(nil), hp.written...)
}

// PlotFold writes fold_NN_loss.png, fold_NN_accuracy.png and fold_NN_lr.png
// for one fold's history and returns their paths. An empty history writes
// nothing.
func (hp *HistoryPlotter) PlotFold(fold int, hist training.History) ([]string, error) {
	if len(hist.Epochs) == 0 {
		return nil, nil
	}

	var loss, valLoss, acc, valAcc, lr plotter.XYs
	for _, e := range hist.Epochs {
		x := float64(e.Epoch + 1)
		loss = append(loss, plotter.XY{X: x, Y: e.Loss})
		valLoss = append(valLoss, plotter.XY{X: x, Y: e.ValLoss})
		acc = append(acc, plotter.XY{X: x, Y: e.Accuracy})
		valAcc = append(valAcc, plotter.XY{X: x, Y: e.ValAccuracy})
		lr = append(lr, plotter.XY{X: x, Y: e.LearningRate})
	}

	pLoss, err := newPlot(fmt.Sprintf("Fold %d - Loss", fold), "Loss",
		series{"loss", loss, trainColor}, series{"val_loss", valLoss, valColor})
	if err != nil {
		return nil, err
	}
	pAcc, err := newPlot(fmt.Sprintf("Fold %d - Accuracy", fold), "Accuracy",
		series{"accuracy", acc, trainColor}, series{"val_accuracy", valAcc, valColor})
	if err != nil {
		return nil, err
	}
	pLR, err := newPlot(fmt.Sprintf("Fold %d - Learning Rate", fold), "Learning rate",
		series{"lr", lr, lrColor})
	if err != nil {
		return nil, err
	}

	var files []string
	for _, out := range []struct {
		p    *plot.Plot
		name string
	}{
		{pLoss, "loss"},
		{pAcc, "accuracy"},
		{pLR, "lr"},
	} {
		file := filepath.Join(hp.outputDir, fmt.Sprintf("fold_%02d_%s.png", fold, out.name))
		if err := out.p.Save(10*vg.Inch, 5*vg.Inch, file); err != nil {
			return files, fmt.Errorf("save %s plot: %w", out.name, err)
		}
		files = append(files, file)
	}

	hp.mu.Lock()
	hp.written = append(hp.written, files...)
	hp.mu.Unlock()
	return files, nil
}

type series struct {
	label string
	pts   plotter.XYs
	color color.Color
}

func newPlot(title, yLabel string, lines ...series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = yLabel

	for _, s := range lines {
		l, err := plotter.NewLine(s.pts)
		if err != nil {
			return nil, err
		}
		l.Color = s.color
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(s.label, l)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}
