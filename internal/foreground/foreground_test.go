package foreground

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/keagan/motionclips/internal/ffmpeg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testW = 16
	testH = 12
)

func defaultParams() ModelParams {
	return ModelParams{History: DefaultHistory, VarThreshold: DefaultVarThreshold}
}

// solidFrame returns a frame filled with v
func solidFrame(v byte) []byte {
	pix := make([]byte, testW*testH)
	for i := range pix {
		pix[i] = v
	}
	return pix
}

// withRect paints a w x h rectangle at (x, y) onto a copy of pix
func withRect(pix []byte, x, y, w, h int, v byte) []byte {
	out := append([]byte(nil), pix...)
	for r := y; r < y+h; r++ {
		for c := x; c < x+w; c++ {
			out[r*testW+c] = v
		}
	}
	return out
}

func countSet(mask []uint8) int {
	n := 0
	for _, v := range mask {
		if v != 0 {
			n++
		}
	}
	return n
}

func TestModelParamsValidate(t *testing.T) {
	assert.NoError(t, defaultParams().Validate())
	assert.Error(t, ModelParams{History: 0, VarThreshold: 50}.Validate())
	assert.Error(t, ModelParams{History: 10, VarThreshold: 0}.Validate())

	_, err := NewModel(0, 10, defaultParams())
	assert.Error(t, err)
}

func TestModelFirstFrameSeeds(t *testing.T) {
	m, err := NewModel(testW, testH, defaultParams())
	require.NoError(t, err)

	mask := make([]uint8, testW*testH)
	require.NoError(t, m.Apply(withRect(solidFrame(20), 2, 2, 4, 4, 250), mask))
	assert.Zero(t, countSet(mask), "first frame has nothing to compare against")
	assert.Equal(t, 1, m.Frames())
}

func TestModelStaticSceneStaysQuiet(t *testing.T) {
	m, err := NewModel(testW, testH, defaultParams())
	require.NoError(t, err)

	mask := make([]uint8, testW*testH)
	bg := solidFrame(100)
	for i := 0; i < 20; i++ {
		// small sensor noise stays under the variance threshold
		frame := append([]byte(nil), bg...)
		frame[i%len(frame)] = 104
		require.NoError(t, m.Apply(frame, mask))
		assert.Zero(t, countSet(mask), "frame %d", i)
	}
}

func TestModelDetectsNewObject(t *testing.T) {
	m, err := NewModel(testW, testH, defaultParams())
	require.NoError(t, err)

	mask := make([]uint8, testW*testH)
	bg := solidFrame(30)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Apply(bg, mask))
	}

	require.NoError(t, m.Apply(withRect(bg, 3, 3, 5, 4, 220), mask))
	assert.Equal(t, 20, countSet(mask))
	assert.Equal(t, uint8(1), mask[3*testW+3])
	assert.Equal(t, uint8(0), mask[0])
}

func TestModelAdaptsToStationaryChange(t *testing.T) {
	m, err := NewModel(testW, testH, ModelParams{History: 4, VarThreshold: DefaultVarThreshold})
	require.NoError(t, err)

	mask := make([]uint8, testW*testH)
	require.NoError(t, m.Apply(solidFrame(30), mask))

	moved := withRect(solidFrame(30), 0, 0, 4, 4, 200)
	require.NoError(t, m.Apply(moved, mask))
	assert.Equal(t, 16, countSet(mask))

	for i := 0; i < 30; i++ {
		require.NoError(t, m.Apply(moved, mask))
	}
	assert.Zero(t, countSet(mask), "a parked object becomes background")
}

func TestModelShadows(t *testing.T) {
	bg := solidFrame(200)
	shadowed := withRect(bg, 0, 0, 6, 6, 120) // 0.6 of the background
	dark := withRect(bg, 8, 0, 4, 4, 10)      // far darker than a shadow

	for _, detect := range []bool{false, true} {
		m, err := NewModel(testW, testH, ModelParams{History: 50, VarThreshold: 50, DetectShadows: detect})
		require.NoError(t, err)
		mask := make([]uint8, testW*testH)
		require.NoError(t, m.Apply(bg, mask))

		frame := append([]byte(nil), shadowed...)
		for r := 0; r < 4; r++ {
			for c := 8; c < 12; c++ {
				frame[r*testW+c] = dark[r*testW+c]
			}
		}
		require.NoError(t, m.Apply(frame, mask))

		if detect {
			assert.Equal(t, 16, countSet(mask), "shadows are not foreground")
		} else {
			assert.Equal(t, 36+16, countSet(mask))
		}
	}
}

func TestIsShadow(t *testing.T) {
	assert.True(t, isShadow(100, 200))
	assert.True(t, isShadow(199, 200))
	assert.False(t, isShadow(99, 200))
	assert.False(t, isShadow(200, 200))
	assert.False(t, isShadow(250, 200))
	assert.False(t, isShadow(0, 0))
}

func TestModelRejectsWrongSize(t *testing.T) {
	m, err := NewModel(testW, testH, defaultParams())
	require.NoError(t, err)
	assert.Error(t, m.Apply(make([]byte, 10), make([]uint8, testW*testH)))
}

func TestLargestArea(t *testing.T) {
	tests := []struct {
		name string
		rows []string
		want int
	}{
		{"empty", []string{"....", "....", "...."}, 0},
		{"single pixel", []string{"....", ".#..", "...."}, 1},
		{"largest of two", []string{"##..", "##..", "...#"}, 4},
		{"diagonal neighbours connect", []string{"#...", ".#..", "..#."}, 3},
		{"separated by a gap", []string{"##.#", "....", "#..#"}, 2},
		{"full", []string{"####", "####", "####"}, 12},
		{"ring", []string{"####", "#..#", "####"}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := len(tt.rows[0]), len(tt.rows)
			mask := make([]uint8, 0, w*h)
			for _, row := range tt.rows {
				for _, c := range row {
					if c == '#' {
						mask = append(mask, 1)
					} else {
						mask = append(mask, 0)
					}
				}
			}
			b := NewBlobFinder(w, h)
			assert.Equal(t, tt.want, b.LargestArea(mask))
			// scratch buffers are reset between calls
			assert.Equal(t, tt.want, b.LargestArea(mask))
		})
	}
}

func TestAnalysisSize(t *testing.T) {
	tests := []struct {
		w, h, aw     int
		wantW, wantH int
	}{
		{1920, 1080, 0, 1920, 1080},
		{1920, 1080, 1920, 1920, 1080},
		{1920, 1080, 4000, 1920, 1080},
		{1920, 1080, 640, 640, 360},
		{1920, 1080, 321, 320, 180},
		{640, 480, 100, 100, 76},
		{1000, 10, 4, 4, 2},
	}
	for _, tt := range tests {
		w, h := AnalysisSize(tt.w, tt.h, tt.aw)
		assert.Equal(t, tt.wantW, w, "%dx%d@%d width", tt.w, tt.h, tt.aw)
		assert.Equal(t, tt.wantH, h, "%dx%d@%d height", tt.w, tt.h, tt.aw)
	}
}

func TestHistoryForStride(t *testing.T) {
	assert.Equal(t, 50, HistoryForStride(500, 10))
	assert.Equal(t, 1, HistoryForStride(5, 10))
	assert.Equal(t, 500, HistoryForStride(500, 0))
}

// fakeStream replays frames like ffmpeg.FrameReader
type fakeStream struct {
	frames []ffmpeg.Frame
	pos    int
	endErr error
	err    error
	closed bool
}

func (f *fakeStream) Next() (ffmpeg.Frame, error) {
	if f.pos >= len(f.frames) {
		if f.endErr != nil {
			return ffmpeg.Frame{}, f.endErr
		}
		return ffmpeg.Frame{}, io.EOF
	}
	fr := f.frames[f.pos]
	f.pos++
	return fr, nil
}

func (f *fakeStream) Err() error    { return f.err }
func (f *fakeStream) Log() []string { return []string{"moov atom not found"} }
func (f *fakeStream) Count() int    { return f.pos }
func (f *fakeStream) Close() error  { f.closed = true; return nil }

func streamOf(stride int, pix ...[]byte) *fakeStream {
	s := &fakeStream{}
	for i, p := range pix {
		s.frames = append(s.frames, ffmpeg.Frame{Index: i * stride, Width: testW, Height: testH, Pix: p})
	}
	return s
}

func TestNativeSourceScores(t *testing.T) {
	bg := solidFrame(40)
	stream := streamOf(10,
		bg,
		bg,
		withRect(bg, 1, 1, 3, 3, 230),
		withRect(withRect(bg, 1, 1, 3, 3, 230), 10, 6, 5, 5, 230),
	)
	m, err := NewModel(testW, testH, defaultParams())
	require.NoError(t, err)

	src := newNativeSource(zerolog.Nop(), stream, m, 10)
	assert.Equal(t, testW*testH, src.FrameArea())

	var scores []float64
	var times []float64
	for {
		s, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		scores = append(scores, s.Score)
		times = append(times, s.Timestamp)
	}

	assert.Equal(t, []float64{0, 0, 9, 25}, scores)
	assert.Equal(t, []float64{0, 1, 2, 3}, times)

	require.NoError(t, src.Close())
	assert.True(t, stream.closed)
}

func TestNativeSourceEndings(t *testing.T) {
	m, err := NewModel(testW, testH, defaultParams())
	require.NoError(t, err)

	t.Run("unreadable", func(t *testing.T) {
		src := newNativeSource(zerolog.Nop(), &fakeStream{endErr: ffmpeg.ErrNoFrames}, m, 30)
		_, err := src.Next(context.Background())
		assert.ErrorIs(t, err, ffmpeg.ErrNoFrames)
	})

	t.Run("decoder failure after frames keeps frames", func(t *testing.T) {
		stream := streamOf(1, solidFrame(1))
		stream.err = errors.New("exit status 1")
		var buf bytes.Buffer
		src := newNativeSource(zerolog.New(&buf), stream, m, 30)

		_, err := src.Next(context.Background())
		require.NoError(t, err)
		_, err = src.Next(context.Background())
		assert.ErrorIs(t, err, io.EOF)
		assert.Contains(t, buf.String(), `"frames":1`)
		assert.Contains(t, buf.String(), "decoder stopped early")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := newNativeSource(zerolog.Nop(), streamOf(1, solidFrame(1)), m, 30)
		_, err := src.Next(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, Backends(), BackendNative)

	o, err := NewOpener(BackendNative, zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.IsType(t, &Native{}, o)

	_, err = NewOpener("bogus", zerolog.Nop(), nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNativeOpenRejectsBadInput(t *testing.T) {
	n := NewNative(zerolog.Nop(), nil)

	_, err := n.Open(context.Background(), Video{Path: "x.mp4", Width: 64, Height: 48}, Options{Stride: 1, Model: defaultParams()})
	assert.Error(t, err, "zero fps")

	_, err = n.Open(context.Background(), Video{Path: "x.mp4", Width: 64, Height: 48, FPS: 30}, Options{Stride: 1})
	assert.Error(t, err, "zero history")
}
