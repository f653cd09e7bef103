// Package playback walks a window of dataset indices and hands each frame to
// a set of renderers, honouring play/pause, stepping, seeking and background
// controls.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
	"github.com/banshee-data/lidar-visualizer/internal/monitoring"
)

// ErrEmpty is returned by NewPlayer for a source without frames.
var ErrEmpty = errors.New("no scans found")

// Source is the read side of a dataset.
type Source interface {
	Len() int
	Frame(ctx context.Context, idx int) (*pointcloud.Frame, error)
}

// Renderer consumes frames. Render is called from the player goroutine only.
type Renderer interface {
	Render(ctx context.Context, frame *pointcloud.Frame, view View) error
	Close() error
}

// View is the playback state a frame is rendered with.
type View struct {
	// ResetView is set for the first frame so viewers can fit their camera.
	ResetView  bool
	Background Background
	Index      int
	Start      int
	Stop       int
	Total      int
	Paused     bool
	Progress   int
}

// Options configures a Player.
type Options struct {
	// NScans limits the window; -1 plays the whole dataset.
	NScans int
	// Jump is the first index played.
	Jump int
	// FPS caps the playing rate. Zero plays as fast as frames load.
	FPS        float64
	Background Background
	Renderers  []Renderer
	Metrics    *monitoring.Metrics
}

// Status is a snapshot of the player state.
type Status struct {
	Index      int        `json:"index"`
	Start      int        `json:"start"`
	Stop       int        `json:"stop"`
	Total      int        `json:"total"`
	Progress   int        `json:"progress"`
	Playing    bool       `json:"playing"`
	Background Background `json:"background"`
	Rendered   uint64     `json:"rendered"`
}

// Player owns the playback state. Run must be called from a single goroutine;
// other goroutines drive it through Commands or Do and observe it through
// Status.
type Player struct {
	src       Source
	renderers []Renderer
	metrics   *monitoring.Metrics
	fps       float64

	start, stop, nScans int

	cmds chan Command

	mu         sync.Mutex
	idx        int
	playing    bool
	background Background
	resetView  bool
	quit       bool
	rendered   uint64
}

// NewPlayer computes the playback window for src.
func NewPlayer(src Source, opts Options) (*Player, error) {
	total := src.Len()
	if total == 0 {
		return nil, ErrEmpty
	}
	if opts.Jump < 0 || opts.Jump >= total {
		return nil, fmt.Errorf("jump %d outside dataset of %d scans", opts.Jump, total)
	}
	if opts.NScans == 0 || opts.NScans < -1 {
		return nil, fmt.Errorf("n-scans must be positive or -1, got %d", opts.NScans)
	}
	if opts.FPS < 0 {
		return nil, fmt.Errorf("fps must be non-negative, got %f", opts.FPS)
	}

	p := &Player{
		src:        src,
		renderers:  opts.Renderers,
		metrics:    opts.Metrics,
		fps:        opts.FPS,
		cmds:       make(chan Command, 16),
		idx:        opts.Jump,
		background: opts.Background,
		resetView:  true,
	}
	if opts.NScans == -1 {
		p.nScans, p.start, p.stop = total, 0, total
	} else {
		p.nScans = min(total-opts.Jump, opts.NScans)
		p.start = opts.Jump
		p.stop = p.nScans + opts.Jump
	}
	return p, nil
}

// Window returns the [start, stop) index range played.
func (p *Player) Window() (start, stop int) {
	return p.start, p.stop
}

// Commands returns the buffered command channel.
func (p *Player) Commands() chan<- Command {
	return p.cmds
}

// Do validates cmd and queues it for the player goroutine.
func (p *Player) Do(ctx context.Context, cmd Command) error {
	if err := p.check(cmd); err != nil {
		return err
	}
	select {
	case p.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Player) check(cmd Command) error {
	if cmd.Kind == CmdSeek && (cmd.Frame < p.start || cmd.Frame >= p.stop) {
		return fmt.Errorf("%w: seek to %d outside window [%d, %d)", ErrInvalidCommand, cmd.Frame, p.start, p.stop)
	}
	return nil
}

// Status returns a snapshot of the playback state.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, total := p.progressLocked()
	return Status{
		Index:      p.idx,
		Start:      p.start,
		Stop:       p.stop,
		Total:      total,
		Progress:   n,
		Playing:    p.playing,
		Background: p.background,
		Rendered:   p.rendered,
	}
}

// Progress returns the position within the window and the window length.
func (p *Player) Progress() (n, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progressLocked()
}

func (p *Player) progressLocked() (int, int) {
	return p.idx % p.nScans, p.nScans
}

// Advance moves to the next index, wrapping to the window start.
func (p *Player) Advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
}

func (p *Player) advanceLocked() {
	if p.idx == p.stop-1 {
		p.idx = p.start
	} else {
		p.idx++
	}
}

// Rewind moves to the previous index, wrapping to the window end.
func (p *Player) Rewind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rewindLocked()
}

func (p *Player) rewindLocked() {
	if p.idx == p.start {
		p.idx = p.stop - 1
	} else {
		p.idx--
	}
}

// Run renders the current frame and then plays until Quit or ctx is done.
func (p *Player) Run(ctx context.Context) error {
	if err := p.render(ctx); err != nil {
		return err
	}

	var tick <-chan time.Time
	if p.fps > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / p.fps))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		p.mu.Lock()
		quit, playing := p.quit, p.playing
		p.mu.Unlock()
		if quit {
			return nil
		}

		if !playing {
			select {
			case <-ctx.Done():
				return nil
			case cmd := <-p.cmds:
				if err := p.apply(ctx, cmd); err != nil {
					return err
				}
			}
			continue
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case cmd := <-p.cmds:
				if err := p.apply(ctx, cmd); err != nil {
					return err
				}
				continue
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				return nil
			case cmd := <-p.cmds:
				if err := p.apply(ctx, cmd); err != nil {
					return err
				}
				continue
			default:
			}
		}

		p.Advance()
		if err := p.render(ctx); err != nil {
			return err
		}
	}
}

// apply mutates state for cmd and re-renders when the visible frame or
// background changed.
func (p *Player) apply(ctx context.Context, cmd Command) error {
	if err := p.check(cmd); err != nil {
		log.Warn().Err(err).Msg("ignoring command")
		return nil
	}

	p.mu.Lock()
	redraw := true
	switch cmd.Kind {
	case CmdTogglePlay:
		p.playing = !p.playing
		redraw = false
	case CmdPlay:
		p.playing = true
		redraw = false
	case CmdPause:
		p.playing = false
		redraw = false
	case CmdNext:
		p.playing = false
		p.advanceLocked()
	case CmdPrev:
		p.playing = false
		p.rewindLocked()
	case CmdSeek:
		p.playing = false
		p.idx = cmd.Frame
	case CmdBlack:
		p.background = Black
	case CmdWhite:
		p.background = White
	case CmdToggleBackground:
		p.background = p.background.Toggle()
	case CmdQuit:
		p.quit = true
		redraw = false
	default:
		redraw = false
	}
	p.mu.Unlock()

	log.Debug().Stringer("command", cmd).Msg("playback command")
	if !redraw {
		return nil
	}
	return p.render(ctx)
}

func (p *Player) render(ctx context.Context) error {
	p.mu.Lock()
	idx := p.idx
	p.mu.Unlock()

	started := time.Now()
	frame, err := p.src.Frame(ctx, idx)
	if err != nil {
		return fmt.Errorf("failed to load frame %d: %w", idx, err)
	}
	load := time.Since(started)

	p.mu.Lock()
	n, total := p.progressLocked()
	view := View{
		ResetView:  p.resetView,
		Background: p.background,
		Index:      idx,
		Start:      p.start,
		Stop:       p.stop,
		Total:      total,
		Paused:     !p.playing,
		Progress:   n,
	}
	p.mu.Unlock()

	for _, r := range p.renderers {
		if err := r.Render(ctx, frame, view); err != nil {
			return fmt.Errorf("failed to render frame %d: %w", idx, err)
		}
	}

	p.mu.Lock()
	p.resetView = false
	p.rendered++
	p.mu.Unlock()

	p.metrics.ObserveFrame(idx, frame.Len(), load)
	log.Trace().Int("index", idx).Int("points", frame.Len()).Dur("load", load).Msg("frame rendered")
	return nil
}

// Close closes every renderer and returns the first error.
func (p *Player) Close() error {
	var first error
	for _, r := range p.renderers {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
