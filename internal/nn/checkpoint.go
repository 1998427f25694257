package nn

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/shoepad/internal/fsutil"
)

// checkpointFormat identifies a weights checkpoint file.
const checkpointFormat = "shoepad-weights"

type checkpoint struct {
	Format    string     `cbor:"format"`
	Version   int        `cbor:"version"`
	Spec      ModelSpec  `cbor:"spec"`
	Variables []Variable `cbor:"variables"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func marshalVariables(spec ModelSpec, vars []Variable) ([]byte, error) {
	return encMode.Marshal(checkpoint{
		Format:    checkpointFormat,
		Version:   FormatVersion,
		Spec:      spec,
		Variables: vars,
	})
}

func unmarshalVariables(data []byte) (*checkpoint, error) {
	var ck checkpoint
	if err := cbor.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("failed to decode weights: %w", err)
	}
	if ck.Format != checkpointFormat {
		return nil, fmt.Errorf("not a weights file (format %q)", ck.Format)
	}
	if ck.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported weights version %d", ck.Version)
	}
	return &ck, nil
}

// SaveWeights writes the model weights to path as CBOR.
func (m *Model) SaveWeights(fsys fsutil.FileSystem, path string) error {
	data, err := marshalVariables(m.Spec, m.Weights())
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	if err := fsys.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}
	return nil
}

// LoadWeights reads a checkpoint written by SaveWeights into the model. The
// checkpoint must describe the same architecture.
func (m *Model) LoadWeights(fsys fsutil.FileSystem, path string) error {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read weights: %w", err)
	}
	ck, err := unmarshalVariables(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if ck.Spec != m.Spec {
		return fmt.Errorf("%s: checkpoint architecture %+v does not match model %+v", path, ck.Spec, m.Spec)
	}
	return m.SetWeights(ck.Variables)
}
