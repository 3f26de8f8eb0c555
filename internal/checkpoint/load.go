package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/model"
)

// basePrefix is the name under which task heads hold the encoder.
const basePrefix = "bert."

// LoadReport lists how checkpoint entries matched model parameters.
type LoadReport struct {
	Loaded []string
	// Missing parameters kept their initial values.
	Missing []string
	// Unexpected entries matched no parameter.
	Unexpected []string
}

// Loader handles loading model weights into a model.
type Loader struct {
	Model model.Parameterized
}

// NewLoader creates a new weight loader for the given model.
func NewLoader(m model.Parameterized) *Loader {
	return &Loader{Model: m}
}

// Load reads the native checkpoint at path into m.
func Load(path string, m model.Parameterized) (*LoadReport, error) {
	return NewLoader(m).Load(path)
}

// Load reads the native checkpoint at path. Names may carry or omit the
// "bert." prefix used by task heads.
func (l *Loader) Load(path string) (*LoadReport, error) {
	f, err := Read(path)
	if err != nil {
		return nil, err
	}
	report, err := l.LoadFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return report, nil
}

// LoadFile copies every entry of f into the parameter of the same name.
func (l *Loader) LoadFile(f *File) (*LoadReport, error) {
	params := l.Model.NamedParameters()
	byName := make(map[string]device.Tensor, len(params))
	for _, p := range params {
		byName[p.Name] = p.Tensor
	}

	report := &LoadReport{}
	loaded := make(map[device.Tensor]bool, len(params))
	for _, e := range f.Tensors {
		name, t, ok := resolve(byName, e.Name)
		if !ok {
			report.Unexpected = append(report.Unexpected, e.Name)
			continue
		}
		if err := checkShape(e, t); err != nil {
			return nil, err
		}
		values, err := f.Values(e)
		if err != nil {
			return nil, err
		}
		t.CopyFromFloat32(values)
		loaded[t] = true
		report.Loaded = append(report.Loaded, name)
	}

	for _, p := range params {
		if !loaded[p.Tensor] {
			report.Missing = append(report.Missing, p.Name)
		}
	}

	log.Info().
		Int("loaded", len(report.Loaded)).
		Int("missing", len(report.Missing)).
		Int("unexpected", len(report.Unexpected)).
		Msg("Loaded checkpoint")
	for _, name := range report.Missing {
		log.Warn().Str("param", name).Msg("Parameter missing from checkpoint")
	}
	for _, name := range report.Unexpected {
		log.Debug().Str("entry", name).Msg("Unexpected checkpoint entry")
	}
	return report, nil
}

func resolve(byName map[string]device.Tensor, name string) (string, device.Tensor, bool) {
	candidates := []string{name}
	if trimmed, ok := strings.CutPrefix(name, basePrefix); ok {
		candidates = append(candidates, trimmed)
	} else {
		candidates = append(candidates, basePrefix+name)
	}
	for _, c := range candidates {
		if t, ok := byName[c]; ok {
			return c, t, true
		}
	}
	return "", nil, false
}

// checkShape accepts 1-D entries for (1, n) vectors and 2-D entries of equal dims.
func checkShape(e Entry, t device.Tensor) error {
	r, c := t.Dims()
	switch len(e.Shape) {
	case 1:
		if r == 1 && e.Shape[0] == c {
			return nil
		}
	case 2:
		if e.Shape[0] == r && e.Shape[1] == c {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has shape %v, parameter is %dx%d", ErrShapeMismatch, e.Name, e.Shape, r, c)
}

// LoadFromRawBinary loads weights from a raw dump of little-endian float32
// values written in NamedParameters order. Tensors shared under several names
// are read once.
func (l *Loader) LoadFromRawBinary(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return l.ReadRaw(file)
}

// ReadRaw is LoadFromRawBinary over a reader.
func (l *Loader) ReadRaw(r io.Reader) error {
	seen := make(map[device.Tensor]bool)
	for _, p := range l.Model.NamedParameters() {
		if seen[p.Tensor] {
			continue
		}
		seen[p.Tensor] = true

		rows, cols := p.Tensor.Dims()
		data := make([]float32, rows*cols)
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return fmt.Errorf("failed to load %s: %w", p.Name, err)
		}
		p.Tensor.CopyFromFloat32(data)
	}
	return nil
}

// WriteRaw dumps parameters in the layout ReadRaw expects.
func WriteRaw(w io.Writer, m model.Parameterized) error {
	seen := make(map[device.Tensor]bool)
	for _, p := range m.NamedParameters() {
		if seen[p.Tensor] {
			continue
		}
		seen[p.Tensor] = true
		if err := binary.Write(w, binary.LittleEndian, p.Tensor.ToHost()); err != nil {
			return fmt.Errorf("failed to write %s: %w", p.Name, err)
		}
	}
	return nil
}

// FromModel snapshots every parameter of m into a checkpoint.
func FromModel(m model.Parameterized, dtype string) *File {
	f := NewFile(dtype)
	for _, p := range m.NamedParameters() {
		r, c := p.Tensor.Dims()
		shape := []int{r, c}
		if r == 1 {
			shape = []int{c}
		}
		f.Add(p.Name, shape, p.Tensor.ToHost())
	}
	return f
}
