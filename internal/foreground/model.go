package foreground

import "fmt"

// Model defaults, matching the usual MOG2 settings
const (
	DefaultHistory      = 50
	DefaultVarThreshold = 50.0

	varInit        = 15.0
	varMin         = 4.0
	varMax         = 5 * varInit
	shadowMinRatio = 0.5
)

// ModelParams configures the adaptive background model
type ModelParams struct {
	History       int     // number of presented frames in the rolling estimate
	VarThreshold  float64 // squared Mahalanobis distance that marks foreground
	DetectShadows bool
}

// Validate checks model parameters
func (p ModelParams) Validate() error {
	if p.History < 1 {
		return fmt.Errorf("background history must be >= 1, got %d", p.History)
	}
	if p.VarThreshold <= 0 {
		return fmt.Errorf("background variance threshold must be positive, got %g", p.VarThreshold)
	}
	return nil
}

// Model is a per-pixel running Gaussian background estimate over 8-bit
// grayscale frames. It only learns from frames passed to Apply.
type Model struct {
	params ModelParams
	width  int
	height int
	mean   []float32
	vari   []float32
	frames int
}

// NewModel creates a model for frames of the given size
func NewModel(width, height int, params ModelParams) (*Model, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size: %dx%d", width, height)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	n := width * height
	return &Model{
		params: params,
		width:  width,
		height: height,
		mean:   make([]float32, n),
		vari:   make([]float32, n),
	}, nil
}

// Frames returns the number of frames the model has learned from
func (m *Model) Frames() int {
	return m.frames
}

// Apply classifies pix against the current estimate, writing 1 for
// foreground and 0 otherwise into mask, then updates the estimate with pix.
// The first frame seeds the model and yields an empty mask.
func (m *Model) Apply(pix []byte, mask []uint8) error {
	n := m.width * m.height
	if len(pix) != n || len(mask) != n {
		return fmt.Errorf("frame size mismatch: got %d pixels and %d mask cells, want %d", len(pix), len(mask), n)
	}

	if m.frames == 0 {
		for i, v := range pix {
			m.mean[i] = float32(v)
			m.vari[i] = varInit
			mask[i] = 0
		}
		m.frames = 1
		return nil
	}

	alpha := float32(1.0 / float64(min(m.frames+1, m.params.History)))
	thr := float32(m.params.VarThreshold)

	for i, v := range pix {
		x := float32(v)
		mu := m.mean[i]
		va := m.vari[i]
		d := x - mu
		d2 := d * d

		fg := d2 > thr*va
		if fg && m.params.DetectShadows && isShadow(x, mu) {
			fg = false
		}
		if fg {
			mask[i] = 1
		} else {
			mask[i] = 0
		}

		m.mean[i] = mu + alpha*d
		va += alpha * (d2 - va)
		m.vari[i] = min(max(va, varMin), varMax)
	}
	m.frames++
	return nil
}

// isShadow reports a pixel that is a darkened copy of the background. With a
// single luma channel there is no chromaticity to compare, so only the
// brightness ratio is checked.
func isShadow(x, mu float32) bool {
	if mu <= 0 || x >= mu {
		return false
	}
	return x/mu >= shadowMinRatio
}
