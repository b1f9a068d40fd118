package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/ixugo/goddd/pkg/queue"
	"github.com/rs/zerolog"
)

// ErrNoFrames is returned when ffmpeg ends without producing a single frame
var ErrNoFrames = errors.New("no frames decoded")

// DecodeOptions configures a raw grayscale frame stream
type DecodeOptions struct {
	Stride      int    // keep every Nth decoded frame; <= 1 keeps all
	Width       int    // output frame width
	Height      int    // output frame height
	InputFormat string // optional demuxer passed as -f before -i
}

// Frame is one decoded 8-bit grayscale frame. Pix is reused by the reader
// and only valid until the next call to Next.
type Frame struct {
	Index  int // index in the source stream
	Width  int
	Height int
	Pix    []byte
}

// FrameReader reads fixed-size grayscale frames from an ffmpeg process
type FrameReader struct {
	logger    zerolog.Logger
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	reader    *bufio.Reader
	stderrLog *queue.CirQueue[string]
	wg        sync.WaitGroup
	opts      DecodeOptions
	frameSize int
	buf       []byte
	count     int
	done      bool
	waitErr   error
}

// DecodeFrames starts ffmpeg decoding input to raw grayscale frames of the
// requested size, keeping every Stride-th frame. Frames must be read in
// order with Next and the reader closed with Close.
func (e *Executor) DecodeFrames(ctx context.Context, input string, opts DecodeOptions) (*FrameReader, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", opts.Width, opts.Height)
	}
	if opts.Stride < 1 {
		opts.Stride = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, e.ffmpegPath, e.decodeArgs(input, opts)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	e.logger.Debug().
		Str("input", input).
		Int("stride", opts.Stride).
		Int("width", opts.Width).
		Int("height", opts.Height).
		Msg("starting frame decoder")

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, e.startError(e.ffmpegPath, err)
	}

	frameSize := opts.Width * opts.Height
	r := &FrameReader{
		logger:    e.logger,
		cmd:       cmd,
		cancel:    cancel,
		reader:    bufio.NewReaderSize(stdout, frameSize*4),
		stderrLog: queue.NewCirQueue[string](stderrTailLines),
		opts:      opts,
		frameSize: frameSize,
		buf:       make([]byte, frameSize),
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.readStderr(stderr)
	}()

	return r, nil
}

func (e *Executor) decodeArgs(input string, opts DecodeOptions) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if e.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(e.threads))
	}
	if opts.InputFormat != "" {
		args = append(args, "-f", opts.InputFormat)
	}
	args = append(args, "-i", input, "-an", "-sn", "-dn")

	filter := NewFilterBuilder().
		SelectEvery(opts.Stride).
		Scale(opts.Width, opts.Height).
		Format("gray").
		Build()

	return append(args,
		"-vf", filter,
		"-fps_mode", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"pipe:1",
	)
}

// Next returns the next sampled frame, or io.EOF when the stream ended
// cleanly. A decoder that fails before emitting any frame returns an error
// wrapping ErrNoFrames.
func (r *FrameReader) Next() (Frame, error) {
	if r.done {
		return Frame{}, r.endErr()
	}

	_, err := io.ReadFull(r.reader, r.buf)
	if err != nil {
		r.finish()
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			r.waitErr = errors.Join(r.waitErr, fmt.Errorf("failed to read frame: %w", err))
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			r.logger.Warn().Int("frames", r.count).Msg("decoder ended with a truncated frame")
		}
		return Frame{}, r.endErr()
	}

	f := Frame{
		Index:  r.count * r.opts.Stride,
		Width:  r.opts.Width,
		Height: r.opts.Height,
		Pix:    r.buf,
	}
	r.count++
	return f, nil
}

// Count returns the number of frames delivered so far
func (r *FrameReader) Count() int {
	return r.count
}

// Err reports a decoder failure that happened after frames were delivered.
// Such streams end with io.EOF from Next; the frames read remain valid.
func (r *FrameReader) Err() error {
	if r.count > 0 {
		return r.waitErr
	}
	return nil
}

// Log returns the tail of ffmpeg's stderr
func (r *FrameReader) Log() []string {
	return r.stderrLog.Range()
}

// Close stops the decoder and waits for it to exit
func (r *FrameReader) Close() error {
	if r.done {
		return nil
	}
	r.cancel()
	r.finish()
	return nil
}

func (r *FrameReader) endErr() error {
	if r.count == 0 {
		if r.waitErr != nil {
			return fmt.Errorf("%w: %w: %s", ErrNoFrames, r.waitErr, lastLines(r.Log(), 5))
		}
		return ErrNoFrames
	}
	return io.EOF
}

// finish reaps the process once
func (r *FrameReader) finish() {
	if r.done {
		return
	}
	r.done = true
	r.wg.Wait()
	if err := r.cmd.Wait(); err != nil {
		r.waitErr = fmt.Errorf("ffmpeg decoder failed: %w", err)
	}
	r.cancel()
}

func (r *FrameReader) readStderr(stderr io.Reader) {
	scan := bufio.NewScanner(stderr)
	for scan.Scan() {
		r.stderrLog.Push(scan.Text())
	}
}
