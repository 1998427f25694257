package nn

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/shoepad/internal/dataset"
	"github.com/banshee-data/shoepad/internal/fsutil"
)

// FormatVersion is the version written to checkpoints and export headers.
const FormatVersion = 1

// Export directory layout.
const (
	ExportHeaderFile    = "saved_model.json"
	ExportVariablesDir  = "variables"
	ExportVariablesFile = "variables.cbor"
	ExportClassesFile   = "class_names.txt"
)

// TensorSpec describes a model input or output. -1 marks a variable axis.
type TensorSpec struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Ragged bool   `json:"ragged,omitempty"`
}

// Signature is the serving signature of an exported model.
type Signature struct {
	Inputs  []TensorSpec `json:"inputs"`
	Outputs []TensorSpec `json:"outputs"`
}

// ExportHeader is the content of saved_model.json.
type ExportHeader struct {
	Format     string     `json:"format"`
	Version    int        `json:"version"`
	Spec       ModelSpec  `json:"architecture"`
	Layers     []string   `json:"layers"`
	Signature  Signature  `json:"signature"`
	ClassNames []string   `json:"class_names"`
	Variables  []Variable `json:"variables"`
}

const exportFormat = "shoepad-saved-model"

func (m *Model) header(classes []string) ExportHeader {
	vars := m.Weights()
	index := make([]Variable, len(vars))
	for i, v := range vars {
		index[i] = Variable{Name: v.Name, Shape: v.Shape}
	}
	return ExportHeader{
		Format:  exportFormat,
		Version: FormatVersion,
		Spec:    m.Spec,
		Layers: []string{
			fmt.Sprintf("time_distributed(flatten) %dx%d->%d", m.Spec.Sensors, m.Spec.Features, m.Spec.InputWidth()),
			fmt.Sprintf("lstm(%d)", m.Spec.LSTMUnits),
			fmt.Sprintf("dense(%d, relu)", m.Spec.DenseUnits),
			fmt.Sprintf("dense(%d, softmax)", m.Spec.NumClasses),
		},
		Signature: Signature{
			Inputs: []TensorSpec{{
				Name:   "tb_input",
				DType:  "float64",
				Shape:  []int{-1, -1, m.Spec.Sensors, m.Spec.Features},
				Ragged: true,
			}},
			Outputs: []TensorSpec{{
				Name:  "dense_1",
				DType: "float64",
				Shape: []int{-1, m.Spec.NumClasses},
			}},
		},
		ClassNames: classes,
		Variables:  index,
	}
}

// Export writes the model to dir:
//
//	dir/saved_model.json           header, signature and variable index
//	dir/variables/variables.cbor   weights
//	dir/class_names.txt            one class per line
func (m *Model) Export(fsys fsutil.FileSystem, dir string, classes []string) error {
	if len(classes) != m.Spec.NumClasses {
		return fmt.Errorf("export: %d class names for %d outputs", len(classes), m.Spec.NumClasses)
	}
	if err := fsys.MkdirAll(filepath.Join(dir, ExportVariablesDir), 0755); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	header, err := json.MarshalIndent(m.header(classes), "", "  ")
	if err != nil {
		return fmt.Errorf("export: failed to encode header: %w", err)
	}
	if err := fsys.WriteFile(filepath.Join(dir, ExportHeaderFile), header, 0644); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	vars, err := marshalVariables(m.Spec, m.Weights())
	if err != nil {
		return fmt.Errorf("export: failed to encode variables: %w", err)
	}
	if err := fsys.WriteFile(filepath.Join(dir, ExportVariablesDir, ExportVariablesFile), vars, 0644); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	// Written in output index order, which for a trained model is the
	// sorted order WriteClassNames produces.
	names := strings.Join(classes, "\n") + "\n"
	if err := fsys.WriteFile(filepath.Join(dir, ExportClassesFile), []byte(names), 0644); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

// Exported is a model loaded from an export directory.
type Exported struct {
	Model   *Model
	Classes []string
	Header  ExportHeader
}

// LoadExported reads a directory written by Export.
func LoadExported(fsys fsutil.FileSystem, dir string) (*Exported, error) {
	data, err := fsys.ReadFile(filepath.Join(dir, ExportHeaderFile))
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	var header ExportHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("load model: failed to parse %s: %w", ExportHeaderFile, err)
	}
	if header.Format != exportFormat || header.Version != FormatVersion {
		return nil, fmt.Errorf("load model: unsupported export %q version %d", header.Format, header.Version)
	}
	if header.Spec != DefaultSpec(header.Spec.NumClasses) || header.Spec.NumClasses < 2 {
		return nil, fmt.Errorf("load model: unsupported architecture %+v", header.Spec)
	}

	varData, err := fsys.ReadFile(filepath.Join(dir, ExportVariablesDir, ExportVariablesFile))
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	ck, err := unmarshalVariables(varData)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	m := newZeroModel(header.Spec)
	if err := m.SetWeights(ck.Variables); err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	classes, err := dataset.ReadClassNames(fsys, filepath.Join(dir, ExportClassesFile))
	if err != nil {
		classes = header.ClassNames
	}
	if len(classes) != header.Spec.NumClasses {
		return nil, fmt.Errorf("load model: %d class names for %d outputs", len(classes), header.Spec.NumClasses)
	}
	return &Exported{Model: m, Classes: classes, Header: header}, nil
}

// Classify returns the predicted class name and the probabilities for one
// sample.
func (e *Exported) Classify(sample dataset.Sample) (string, []float64, error) {
	probs, err := e.Model.Predict(sample)
	if err != nil {
		return "", nil, err
	}
	return e.Classes[Argmax(probs)], probs, nil
}
