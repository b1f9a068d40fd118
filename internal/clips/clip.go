package clips

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/motionclips/internal/motion"
)

// Clip is one motion range of a source video and the file it is exported to
type Clip struct {
	ID        string
	Source    string
	Range     motion.Interval
	StartedAt time.Time // wall-clock time of Range.Start
	Output    string
}

// Duration returns the clip length in seconds
func (c *Clip) Duration() float64 {
	return c.Range.Duration()
}

// FileName formats the wall-clock start of a clip with layout. Offsets are
// applied at full precision; the layout decides what is shown.
func FileName(recordingStart time.Time, offset float64, layout, ext string) string {
	at := recordingStart.Add(time.Duration(offset * float64(time.Second)))
	return at.Format(layout) + ext
}

// Manager hands out output paths for one run. Names never collide with
// each other or with existing files.
type Manager struct {
	mu       sync.Mutex
	dir      string
	layout   string
	reserved map[string]bool
}

// NewManager creates a new clip manager writing into dir
func NewManager(dir, layout string) *Manager {
	return &Manager{
		dir:      dir,
		layout:   layout,
		reserved: make(map[string]bool),
	}
}

// Plan creates a clip for a range of source and reserves its output path.
// A taken name gets a _2, _3, ... suffix.
func (m *Manager) Plan(source string, recordingStart time.Time, iv motion.Interval, ext string) *Clip {
	m.mu.Lock()
	defer m.mu.Unlock()

	at := recordingStart.Add(time.Duration(iv.Start * float64(time.Second)))
	base := FileName(recordingStart, iv.Start, m.layout, "")

	output := filepath.Join(m.dir, base+ext)
	for n := 2; m.taken(output); n++ {
		output = filepath.Join(m.dir, fmt.Sprintf("%s_%d%s", base, n, ext))
	}
	m.reserved[output] = true

	return &Clip{
		ID:        uuid.NewString(),
		Source:    source,
		Range:     iv,
		StartedAt: at,
		Output:    output,
	}
}

func (m *Manager) taken(path string) bool {
	if m.reserved[path] {
		return true
	}
	_, err := os.Lstat(path)
	return err == nil
}

// Release frees the name of a clip that was not written
func (m *Manager) Release(clip *Clip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, clip.Output)
}
