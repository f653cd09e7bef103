// Package visualiser streams playback to external viewers. The Publisher is
// a playback renderer that fans frames out to gRPC clients and backs the
// HTTP status pages and static exports.
package visualiser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/playback"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser/pb"
	"github.com/banshee-data/lidar-visualizer/internal/monitoring"
)

// maxMsgSize bounds a single frame on the wire. The gRPC default of 4MB is
// too small for full-resolution scans.
const maxMsgSize = 16 * 1024 * 1024

var (
	ErrAlreadyRunning = errors.New("publisher already running")
	errTooManyClients = errors.New("too many viewer clients")
)

// Config holds configuration for the viewer gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// ClientBuffer is the number of frames queued per client before frames
	// are dropped for it
	ClientBuffer int

	// Decimation thins every frame before it is published
	Decimation      pointcloud.DecimationMode
	DecimationRatio float64
	VoxelSize       float64

	// Viewer hints returned by GetStatus
	PointSize    float64
	WindowWidth  int
	WindowHeight int
	Loader       string
	Source       string
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "localhost:50051",
		MaxClients:      8,
		ClientBuffer:    4,
		Decimation:      pointcloud.DecimationNone,
		DecimationRatio: 1,
		VoxelSize:       0.1,
		PointSize:       1,
		WindowWidth:     1920,
		WindowHeight:    1080,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxClients <= 0 {
		c.MaxClients = def.MaxClients
	}
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = def.ClientBuffer
	}
	if c.Decimation == "" {
		c.Decimation = def.Decimation
	}
	if c.PointSize <= 0 {
		c.PointSize = def.PointSize
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = def.WindowWidth, def.WindowHeight
	}
	return c
}

// Controller drives playback on behalf of remote viewers. *playback.Player
// implements it.
type Controller interface {
	Do(ctx context.Context, cmd playback.Command) error
	Status() playback.Status
}

// Publisher manages the gRPC server and frame streaming.
type Publisher struct {
	config  Config
	metrics *monitoring.Metrics

	server   *grpc.Server
	listener net.Listener
	done     chan struct{}

	mu          sync.RWMutex
	controller  Controller
	latest      *pb.Frame
	latestCloud *pointcloud.Frame
	clients     map[string]*clientStream

	// Stats
	frameCount    atomic.Uint64
	droppedFrames atomic.Uint64

	// Lifecycle
	running  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var (
	_ playback.Renderer = (*Publisher)(nil)
	_ ViewerServer      = (*Publisher)(nil)
)

// clientStream represents a connected streaming client.
type clientStream struct {
	id      string
	name    string
	ratio   float32
	frameCh chan *pb.Frame
}

// NewPublisher creates a new Publisher with the given configuration. The
// gRPC server is only started by Start or Serve; without it the Publisher
// still tracks the latest frame for the HTTP server.
func NewPublisher(cfg Config, metrics *monitoring.Metrics) *Publisher {
	return &Publisher{
		config:  cfg.withDefaults(),
		metrics: metrics,
		clients: make(map[string]*clientStream),
		done:    make(chan struct{}),
	}
}

// SetController attaches the player that Control and GetStatus act on.
func (p *Publisher) SetController(c Controller) {
	p.mu.Lock()
	p.controller = c
	p.mu.Unlock()
}

func (p *Publisher) getController() Controller {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.controller
}

// Start listens on the configured address and serves the viewer service.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return ErrAlreadyRunning
	}
	log.Debug().Str("addr", p.config.ListenAddr).Msg("binding viewer gRPC server")
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the viewer service on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	p.listener = lis
	p.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterViewerServer(p.server, p)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", lis.Addr().String()).Msg("viewer gRPC server listening")
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Error().Err(err).Msg("viewer gRPC server error")
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop ends every stream and gracefully stops the gRPC server.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		if !p.running.Load() {
			return
		}
		p.running.Store(false)
		if p.server != nil {
			p.server.GracefulStop()
		}
		p.wg.Wait()
		log.Info().Uint64("frames", p.frameCount.Load()).Uint64("dropped", p.droppedFrames.Load()).
			Msg("viewer gRPC server stopped")
	})
}

// Close implements playback.Renderer.
func (p *Publisher) Close() error {
	p.Stop()
	return nil
}

// Render publishes a frame to every connected client.
func (p *Publisher) Render(_ context.Context, frame *pointcloud.Frame, view playback.View) error {
	cloud := frame
	if p.config.Decimation != pointcloud.DecimationNone {
		cloud = frame.Decimate(p.config.Decimation, p.config.DecimationRatio, p.config.VoxelSize)
	}

	wire := pb.NewFrame(cloud)
	wire.Index = int64(view.Index)
	wire.TotalFrames = int64(view.Total)
	wire.ResetView = view.ResetView
	wire.Background = view.Background.String()
	wire.Paused = view.Paused
	wire.Progress = int64(view.Progress)

	p.mu.Lock()
	p.latest = wire
	p.latestCloud = cloud
	p.mu.Unlock()

	p.frameCount.Add(1)
	p.broadcast(wire)
	return nil
}

// broadcast queues the frame for each client, dropping it for clients whose
// buffer is full.
func (p *Publisher) broadcast(frame *pb.Frame) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, client := range p.clients {
		out := frame
		if client.ratio > 0 && client.ratio < 1 {
			out = decimateWire(frame, client.ratio)
		}
		select {
		case client.frameCh <- out:
		default:
			dropped := p.droppedFrames.Add(1)
			p.metrics.DroppedFrame(client.id)
			log.Debug().Str("client", client.id).Int64("index", frame.Index).Uint64("dropped", dropped).
				Msg("viewer client is slow, frame dropped")
		}
	}
}

// Latest returns the most recently rendered frame, as sent and as a point
// cloud, or nils before the first frame.
func (p *Publisher) Latest() (*pb.Frame, *pointcloud.Frame) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.latestCloud
}

// addClient registers a new streaming client. A client joining mid-session
// is sent the latest frame straight away with ResetView set.
func (p *Publisher) addClient(name string, ratio float32) (*clientStream, error) {
	client := &clientStream{
		id:      uuid.NewString(),
		name:    name,
		ratio:   ratio,
		frameCh: make(chan *pb.Frame, p.config.ClientBuffer),
	}

	p.mu.Lock()
	if len(p.clients) >= p.config.MaxClients {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: limit is %d", errTooManyClients, p.config.MaxClients)
	}
	p.clients[client.id] = client
	n := len(p.clients)
	if p.latest != nil {
		first := *p.latest
		first.ResetView = true
		if ratio > 0 && ratio < 1 {
			client.frameCh <- decimateWire(&first, ratio)
		} else {
			client.frameCh <- &first
		}
	}
	p.mu.Unlock()

	p.metrics.SetClients(n)
	log.Info().Str("client", client.id).Str("name", name).Int("total", n).Msg("viewer client connected")
	return client, nil
}

// removeClient unregisters a streaming client.
func (p *Publisher) removeClient(id string) {
	p.mu.Lock()
	_, ok := p.clients[id]
	delete(p.clients, id)
	n := len(p.clients)
	p.mu.Unlock()
	if !ok {
		return
	}
	p.metrics.SetClients(n)
	log.Info().Str("client", id).Int("remaining", n).Msg("viewer client disconnected")
}

// Status combines the player state with the viewer hints.
func (p *Publisher) Status() *pb.PlaybackStatus {
	p.mu.RLock()
	clients := len(p.clients)
	controller := p.controller
	p.mu.RUnlock()

	out := &pb.PlaybackStatus{
		Clients:      int32(clients),
		PointSize:    float32(p.config.PointSize),
		WindowWidth:  int32(p.config.WindowWidth),
		WindowHeight: int32(p.config.WindowHeight),
		Loader:       p.config.Loader,
		Source:       p.config.Source,
		Background:   playback.Black.String(),
	}
	if controller != nil {
		st := controller.Status()
		out.Index = int64(st.Index)
		out.Start = int64(st.Start)
		out.Stop = int64(st.Stop)
		out.Total = int64(st.Total)
		out.Progress = int64(st.Progress)
		out.Playing = st.Playing
		out.Background = st.Background.String()
	}
	return out
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	p.mu.RLock()
	clients := len(p.clients)
	p.mu.RUnlock()
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   clients,
		Running:       p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64 `json:"frames"`
	DroppedFrames uint64 `json:"dropped"`
	ClientCount   int    `json:"clients"`
	Running       bool   `json:"running"`
}
