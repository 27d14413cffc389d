// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"livefx/internal/dsp"
	"livefx/internal/log"
	"livefx/internal/ring"
)

// ErrRecording is returned for recorder misuse.
var ErrRecording = errors.New("recorder")

// RecorderConfig configures the monitoring recorder.
type RecorderConfig struct {
	OutputDir   string
	BitDepth    int           // 16, 24 or 32
	MaxDuration time.Duration // 0 for unlimited
	Capacity    int           // queued blocks between render and disk
}

// Recorder is a tap that writes the processed output to a WAV file.
// Write runs on the render path and only queues a copy of the block; the
// encoder runs in Run, on the control side.
type Recorder struct {
	format dsp.Format
	cfg    RecorderConfig
	blocks *ring.Blocks

	recording atomic.Bool

	// mu guards the consumer side: the file, the encoder and the ring's
	// Pop end, which Run and Stop both drain.
	mu        sync.Mutex
	file      *os.File
	enc       *wav.Encoder
	ibuf      *audio.IntBuffer
	data      []int
	scratch   *dsp.Buffer
	path      string
	frames    int64
	maxFrames int64
}

// NewRecorder creates an idle recorder for blocks of format f.
func NewRecorder(f dsp.Format, cfg RecorderConfig) (*Recorder, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	switch cfg.BitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrRecording, cfg.BitDepth)
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}

	data := make([]int, f.Samples())
	return &Recorder{
		format:  f,
		cfg:     cfg,
		blocks:  ring.NewBlocks(f, cfg.Capacity),
		data:    data,
		scratch: dsp.NewBuffer(f),
		ibuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: f.Channels,
				SampleRate:  int(f.SampleRate),
			},
			Data:           data,
			SourceBitDepth: cfg.BitDepth,
		},
	}, nil
}

// Start creates a new WAV file and begins recording. An empty name picks a
// timestamped file name in the output directory. Start returns the path.
func (r *Recorder) Start(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc != nil {
		return "", fmt.Errorf("%w: already recording to %s", ErrRecording, r.path)
	}

	if name == "" {
		name = fmt.Sprintf("livefx-%s.wav", time.Now().Format("20060102-150405.000"))
	}
	path := name
	if !filepath.IsAbs(path) && r.cfg.OutputDir != "" {
		path = filepath.Join(r.cfg.OutputDir, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRecording, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRecording, err)
	}

	// Discard anything queued by a previous take.
	for r.blocks.Pop(r.scratch) {
	}

	r.file = file
	r.enc = wav.NewEncoder(file, int(r.format.SampleRate), r.cfg.BitDepth, r.format.Channels, 1)
	r.path = path
	r.frames = 0
	r.maxFrames = int64(r.cfg.MaxDuration.Seconds() * r.format.SampleRate)
	r.recording.Store(true)

	log.Infof("Recorder: writing %d-bit %s to %s", r.cfg.BitDepth, r.format, path)
	return path, nil
}

// Write queues a copy of buf while recording. Render path: never blocks,
// never allocates.
func (r *Recorder) Write(buf *dsp.Buffer) {
	if !r.recording.Load() {
		return
	}
	r.blocks.Push(buf)
}

// Run writes queued blocks to disk until ctx is done, then finishes the
// current take.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_, err := r.Stop()
			return err
		case <-r.blocks.Ready():
			if err := r.Drain(); err != nil {
				return err
			}
		}
	}
}

// Drain writes every queued block.
func (r *Recorder) Drain() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drainLocked()
}

func (r *Recorder) drainLocked() error {
	for r.enc != nil && r.blocks.Pop(r.scratch) {
		if err := r.encode(r.scratch); err != nil {
			r.recording.Store(false)
			r.closeLocked()
			return err
		}
		if r.maxFrames > 0 && r.frames >= r.maxFrames {
			log.Infof("Recorder: reached maximum duration %s", r.cfg.MaxDuration)
			r.recording.Store(false)
			return r.closeLocked()
		}
	}
	return nil
}

func (r *Recorder) encode(buf *dsp.Buffer) error {
	frames := buf.Frames
	if r.maxFrames > 0 {
		frames = int(min(int64(frames), r.maxFrames-r.frames))
	}
	src := buf.Data()[:frames*buf.Channels]

	scale := float64(int64(1)<<(r.cfg.BitDepth-1) - 1)
	for i, s := range src {
		r.data[i] = int(math.Round(clampUnit(s) * scale))
	}
	r.ibuf.Data = r.data[:len(src)]

	if err := r.enc.Write(r.ibuf); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrRecording, r.path, err)
	}
	r.frames += int64(frames)
	return nil
}

// Stop writes any queued blocks, finalises the WAV header and closes the
// file. It returns the path of the finished take, or "" if idle.
func (r *Recorder) Stop() (string, error) {
	r.recording.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return "", nil
	}
	path := r.path
	drainErr := r.drainLocked()
	if err := r.closeLocked(); err != nil {
		return path, err
	}
	return path, drainErr
}

func (r *Recorder) closeLocked() error {
	if r.enc == nil {
		return nil
	}
	encErr := r.enc.Close()
	fileErr := r.file.Close()
	r.enc, r.file = nil, nil
	log.Infof("Recorder: closed %s (%d frames)", r.path, r.frames)

	if encErr != nil {
		return fmt.Errorf("%w: finalise %s: %w", ErrRecording, r.path, encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("%w: close %s: %w", ErrRecording, r.path, fileErr)
	}
	return nil
}

// Recording reports whether a take is in progress.
func (r *Recorder) Recording() bool { return r.recording.Load() }

// Frames returns the number of frames written to the current or last take.
func (r *Recorder) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Dropped returns the number of blocks lost because the disk fell behind.
func (r *Recorder) Dropped() uint64 { return r.blocks.Dropped() }
