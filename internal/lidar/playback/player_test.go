package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

type fakeSource struct {
	n   int
	err error
}

func (s *fakeSource) Len() int { return s.n }

func (s *fakeSource) Frame(_ context.Context, idx int) (*pointcloud.Frame, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &pointcloud.Frame{Index: idx, Points: []r3.Vec{{X: float64(idx)}}}, nil
}

type recordingRenderer struct {
	mu     sync.Mutex
	views  []View
	err    error
	closed bool
	onView func(View)
}

func (r *recordingRenderer) Render(_ context.Context, _ *pointcloud.Frame, view View) error {
	r.mu.Lock()
	r.views = append(r.views, view)
	cb := r.onView
	r.mu.Unlock()
	if cb != nil {
		cb(view)
	}
	return r.err
}

func (r *recordingRenderer) Close() error {
	r.closed = true
	return nil
}

func (r *recordingRenderer) indices() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.views))
	for i, v := range r.views {
		out[i] = v.Index
	}
	return out
}

func TestNewPlayer_Window(t *testing.T) {
	tests := []struct {
		name                string
		n, nScans, jump     int
		wantStart, wantStop int
		wantIdx, wantNScans int
	}{
		{name: "whole dataset", n: 10, nScans: -1, jump: 0, wantStart: 0, wantStop: 10, wantIdx: 0, wantNScans: 10},
		{name: "whole dataset with jump", n: 10, nScans: -1, jump: 4, wantStart: 0, wantStop: 10, wantIdx: 4, wantNScans: 10},
		{name: "limited", n: 10, nScans: 3, jump: 2, wantStart: 2, wantStop: 5, wantIdx: 2, wantNScans: 3},
		{name: "limit past end", n: 10, nScans: 50, jump: 7, wantStart: 7, wantStop: 10, wantIdx: 7, wantNScans: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPlayer(&fakeSource{n: tt.n}, Options{NScans: tt.nScans, Jump: tt.jump})
			require.NoError(t, err)
			start, stop := p.Window()
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantStop, stop)
			assert.Equal(t, tt.wantIdx, p.Status().Index)
			_, total := p.Progress()
			assert.Equal(t, tt.wantNScans, total)
		})
	}
}

func TestNewPlayer_Errors(t *testing.T) {
	_, err := NewPlayer(&fakeSource{n: 0}, Options{NScans: -1})
	assert.ErrorIs(t, err, ErrEmpty)

	for _, opts := range []Options{
		{NScans: -1, Jump: -1},
		{NScans: -1, Jump: 5},
		{NScans: 0},
		{NScans: -2},
		{NScans: -1, FPS: -1},
	} {
		_, err := NewPlayer(&fakeSource{n: 5}, opts)
		assert.Error(t, err, "%+v", opts)
	}
}

func TestPlayer_AdvanceRewindWrap(t *testing.T) {
	p, err := NewPlayer(&fakeSource{n: 10}, Options{NScans: 3, Jump: 2})
	require.NoError(t, err)

	var got []int
	for i := 0; i < 4; i++ {
		p.Advance()
		got = append(got, p.Status().Index)
	}
	assert.Equal(t, []int{3, 4, 2, 3}, got)

	got = nil
	for i := 0; i < 4; i++ {
		p.Rewind()
		got = append(got, p.Status().Index)
	}
	assert.Equal(t, []int{2, 4, 3, 2}, got)
}

func TestPlayer_Progress(t *testing.T) {
	p, err := NewPlayer(&fakeSource{n: 10}, Options{NScans: 4, Jump: 5})
	require.NoError(t, err)
	n, total := p.Progress()
	assert.Equal(t, 1, n)
	assert.Equal(t, 4, total)
}

func TestPlayer_RunStepsWhilePaused(t *testing.T) {
	rec := &recordingRenderer{}
	p, err := NewPlayer(&fakeSource{n: 5}, Options{NScans: -1, Renderers: []Renderer{rec}})
	require.NoError(t, err)

	cmds := p.Commands()
	cmds <- Command{Kind: CmdNext}
	cmds <- Command{Kind: CmdNext}
	cmds <- Command{Kind: CmdPrev}
	cmds <- Command{Kind: CmdWhite}
	cmds <- Command{Kind: CmdSeek, Frame: 4}
	cmds <- Command{Kind: CmdQuit}

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 1, 1, 4}, rec.indices())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.True(t, rec.views[0].ResetView)
	for _, v := range rec.views[1:] {
		assert.False(t, v.ResetView)
		assert.True(t, v.Paused)
	}
	assert.Equal(t, Black, rec.views[3].Background)
	assert.Equal(t, White, rec.views[4].Background)
	assert.Equal(t, White, rec.views[5].Background)
	assert.Equal(t, uint64(6), p.Status().Rendered)
}

func TestPlayer_FirstViewIsPausedAndComplete(t *testing.T) {
	rec := &recordingRenderer{}
	p, err := NewPlayer(&fakeSource{n: 10}, Options{NScans: 4, Jump: 3, Background: White, Renderers: []Renderer{rec}})
	require.NoError(t, err)
	p.Commands() <- Command{Kind: CmdQuit}
	require.NoError(t, p.Run(context.Background()))

	want := View{ResetView: true, Background: White, Index: 3, Start: 3, Stop: 7, Total: 4, Paused: true, Progress: 3}
	if diff := cmp.Diff(want, rec.views[0]); diff != "" {
		t.Errorf("first view mismatch (-want +got):\n%s", diff)
	}
}

func TestPlayer_PlayingWrapsWindow(t *testing.T) {
	rec := &recordingRenderer{}
	p, err := NewPlayer(&fakeSource{n: 10}, Options{NScans: 3, Jump: 5, Renderers: []Renderer{rec}})
	require.NoError(t, err)

	rec.onView = func(View) {
		if len(rec.indices()) == 7 {
			p.Commands() <- Command{Kind: CmdQuit}
		}
	}
	p.Commands() <- Command{Kind: CmdPlay}

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []int{5, 6, 7, 5, 6, 7, 5}, rec.indices()[:7])
}

func TestPlayer_FPSThrottle(t *testing.T) {
	rec := &recordingRenderer{}
	p, err := NewPlayer(&fakeSource{n: 100}, Options{NScans: -1, FPS: 50, Renderers: []Renderer{rec}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	p.Commands() <- Command{Kind: CmdPlay}
	require.NoError(t, p.Run(ctx))

	// 50 fps over 200ms allows about ten frames; unthrottled would be ~100.
	assert.LessOrEqual(t, len(rec.indices()), 15)
	assert.GreaterOrEqual(t, len(rec.indices()), 2)
}

func TestPlayer_RunReturnsOnCancel(t *testing.T) {
	p, err := NewPlayer(&fakeSource{n: 3}, Options{NScans: -1})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestPlayer_RunPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")

	p, err := NewPlayer(&fakeSource{n: 3, err: boom}, Options{NScans: -1})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Run(context.Background()), boom)

	rec := &recordingRenderer{err: boom}
	p, err = NewPlayer(&fakeSource{n: 3}, Options{NScans: -1, Renderers: []Renderer{rec}})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Run(context.Background()), boom)
}

func TestPlayer_DoRejectsSeekOutsideWindow(t *testing.T) {
	p, err := NewPlayer(&fakeSource{n: 10}, Options{NScans: 3, Jump: 2})
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, p.Do(ctx, Command{Kind: CmdSeek, Frame: 1}), ErrInvalidCommand)
	assert.ErrorIs(t, p.Do(ctx, Command{Kind: CmdSeek, Frame: 5}), ErrInvalidCommand)
	assert.NoError(t, p.Do(ctx, Command{Kind: CmdSeek, Frame: 4}))
}

func TestPlayer_CloseClosesRenderers(t *testing.T) {
	a, b := &recordingRenderer{}, &recordingRenderer{}
	p, err := NewPlayer(&fakeSource{n: 1}, Options{NScans: -1, Renderers: []Renderer{a, b}})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
