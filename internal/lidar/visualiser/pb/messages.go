package pb

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

// Frame is the Go view of lidarviz.v1.Frame.
type Frame struct {
	Index       int64
	TimestampNS int64
	TotalFrames int64
	X, Y, Z     []float32
	RGB         []byte
	Intensity   []float32
	ResetView   bool
	Background  string
	Paused      bool
	Source      string
	Progress    int64
}

// StreamRequest is the Go view of lidarviz.v1.StreamRequest.
type StreamRequest struct {
	ClientName      string
	DecimationRatio float32
}

// ControlRequest is the Go view of lidarviz.v1.ControlRequest.
type ControlRequest struct {
	Command    string
	Frame      int64
	Background string
}

// PlaybackStatus is the Go view of lidarviz.v1.PlaybackStatus.
type PlaybackStatus struct {
	Index        int64
	Start        int64
	Stop         int64
	Total        int64
	Progress     int64
	Playing      bool
	Background   string
	Clients      int32
	PointSize    float32
	WindowWidth  int32
	WindowHeight int32
	Loader       string
	Source       string
}

// NewFrame copies the geometry of a point cloud into a wire frame. View
// fields are left for the caller.
func NewFrame(f *pointcloud.Frame) *Frame {
	n := f.Len()
	out := &Frame{
		Index:  int64(f.Index),
		Source: f.Source,
		X:      make([]float32, n),
		Y:      make([]float32, n),
		Z:      make([]float32, n),
	}
	if !f.Timestamp.IsZero() {
		out.TimestampNS = f.Timestamp.UnixNano()
	}
	for i, p := range f.Points {
		out.X[i], out.Y[i], out.Z[i] = float32(p.X), float32(p.Y), float32(p.Z)
	}
	if f.HasColors() {
		out.RGB = make([]byte, 0, 3*n)
		for _, c := range f.Colors {
			out.RGB = append(out.RGB, c.R, c.G, c.B)
		}
	}
	if len(f.Intensity) > 0 {
		out.Intensity = append([]float32(nil), f.Intensity...)
	}
	return out
}

// PointCloud converts a wire frame back into a point cloud.
func (f *Frame) PointCloud() (*pointcloud.Frame, error) {
	n := len(f.X)
	if len(f.Y) != n || len(f.Z) != n {
		return nil, fmt.Errorf("frame %d: coordinate arrays differ in length (%d, %d, %d)", f.Index, n, len(f.Y), len(f.Z))
	}
	if len(f.RGB) != 0 && len(f.RGB) != 3*n {
		return nil, fmt.Errorf("frame %d: %d rgb bytes for %d points", f.Index, len(f.RGB), n)
	}
	out := &pointcloud.Frame{
		Index:  int(f.Index),
		Source: f.Source,
		Points: make([]r3.Vec, n),
	}
	if f.TimestampNS != 0 {
		out.Timestamp = time.Unix(0, f.TimestampNS).UTC()
	}
	for i := range f.X {
		out.Points[i] = r3.Vec{X: float64(f.X[i]), Y: float64(f.Y[i]), Z: float64(f.Z[i])}
	}
	if len(f.RGB) > 0 {
		out.Colors = make([]pointcloud.Color, n)
		for i := range out.Colors {
			out.Colors[i] = pointcloud.Color{R: f.RGB[3*i], G: f.RGB[3*i+1], B: f.RGB[3*i+2]}
		}
	}
	if len(f.Intensity) > 0 {
		out.Intensity = append([]float32(nil), f.Intensity...)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Message builds the dynamic protobuf message for f.
func (f *Frame) Message() *dynamicpb.Message {
	m := dynamicpb.NewMessage(frameDesc)
	setInt64(m, "index", f.Index)
	setInt64(m, "timestamp_ns", f.TimestampNS)
	setInt64(m, "total_frames", f.TotalFrames)
	setFloats(m, "x", f.X)
	setFloats(m, "y", f.Y)
	setFloats(m, "z", f.Z)
	setBytes(m, "rgb", f.RGB)
	setFloats(m, "intensity", f.Intensity)
	setBool(m, "reset_view", f.ResetView)
	setString(m, "background", f.Background)
	setBool(m, "paused", f.Paused)
	setString(m, "source", f.Source)
	setInt64(m, "progress", f.Progress)
	return m
}

// FrameFromMessage reads a lidarviz.v1.Frame message.
func FrameFromMessage(m protoreflect.Message) *Frame {
	return &Frame{
		Index:       getInt64(m, "index"),
		TimestampNS: getInt64(m, "timestamp_ns"),
		TotalFrames: getInt64(m, "total_frames"),
		X:           getFloats(m, "x"),
		Y:           getFloats(m, "y"),
		Z:           getFloats(m, "z"),
		RGB:         getBytes(m, "rgb"),
		Intensity:   getFloats(m, "intensity"),
		ResetView:   getBool(m, "reset_view"),
		Background:  getString(m, "background"),
		Paused:      getBool(m, "paused"),
		Source:      getString(m, "source"),
		Progress:    getInt64(m, "progress"),
	}
}

// MarshalFrame encodes f in the protobuf wire format.
func MarshalFrame(f *Frame) ([]byte, error) {
	return proto.Marshal(f.Message())
}

// UnmarshalFrame decodes a protobuf-encoded Frame.
func UnmarshalFrame(data []byte) (*Frame, error) {
	m := NewFrameMessage()
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return FrameFromMessage(m), nil
}

// NewFrameMessage returns an empty Frame message to decode into.
func NewFrameMessage() *dynamicpb.Message { return dynamicpb.NewMessage(frameDesc) }

// NewStreamRequestMessage returns an empty StreamRequest message.
func NewStreamRequestMessage() *dynamicpb.Message { return dynamicpb.NewMessage(streamRequestDesc) }

// NewControlRequestMessage returns an empty ControlRequest message.
func NewControlRequestMessage() *dynamicpb.Message { return dynamicpb.NewMessage(controlRequestDesc) }

// NewStatusRequestMessage returns an empty StatusRequest message.
func NewStatusRequestMessage() *dynamicpb.Message { return dynamicpb.NewMessage(statusRequestDesc) }

// NewPlaybackStatusMessage returns an empty PlaybackStatus message.
func NewPlaybackStatusMessage() *dynamicpb.Message { return dynamicpb.NewMessage(playbackStatusDesc) }

func (r *StreamRequest) Message() *dynamicpb.Message {
	m := NewStreamRequestMessage()
	setString(m, "client_name", r.ClientName)
	if r.DecimationRatio != 0 {
		m.Set(field(m, "decimation_ratio"), protoreflect.ValueOfFloat32(r.DecimationRatio))
	}
	return m
}

// StreamRequestFromMessage reads a lidarviz.v1.StreamRequest message.
func StreamRequestFromMessage(m protoreflect.Message) *StreamRequest {
	return &StreamRequest{
		ClientName:      getString(m, "client_name"),
		DecimationRatio: float32(m.Get(field(m, "decimation_ratio")).Float()),
	}
}

func (r *ControlRequest) Message() *dynamicpb.Message {
	m := NewControlRequestMessage()
	setString(m, "command", r.Command)
	setInt64(m, "frame", r.Frame)
	setString(m, "background", r.Background)
	return m
}

// ControlRequestFromMessage reads a lidarviz.v1.ControlRequest message.
func ControlRequestFromMessage(m protoreflect.Message) *ControlRequest {
	return &ControlRequest{
		Command:    getString(m, "command"),
		Frame:      getInt64(m, "frame"),
		Background: getString(m, "background"),
	}
}

func (s *PlaybackStatus) Message() *dynamicpb.Message {
	m := NewPlaybackStatusMessage()
	setInt64(m, "index", s.Index)
	setInt64(m, "start", s.Start)
	setInt64(m, "stop", s.Stop)
	setInt64(m, "total", s.Total)
	setInt64(m, "progress", s.Progress)
	setBool(m, "playing", s.Playing)
	setString(m, "background", s.Background)
	setInt32(m, "clients", s.Clients)
	if s.PointSize != 0 {
		m.Set(field(m, "point_size"), protoreflect.ValueOfFloat32(s.PointSize))
	}
	setInt32(m, "window_width", s.WindowWidth)
	setInt32(m, "window_height", s.WindowHeight)
	setString(m, "loader", s.Loader)
	setString(m, "source", s.Source)
	return m
}

// PlaybackStatusFromMessage reads a lidarviz.v1.PlaybackStatus message.
func PlaybackStatusFromMessage(m protoreflect.Message) *PlaybackStatus {
	return &PlaybackStatus{
		Index:        getInt64(m, "index"),
		Start:        getInt64(m, "start"),
		Stop:         getInt64(m, "stop"),
		Total:        getInt64(m, "total"),
		Progress:     getInt64(m, "progress"),
		Playing:      getBool(m, "playing"),
		Background:   getString(m, "background"),
		Clients:      int32(m.Get(field(m, "clients")).Int()),
		PointSize:    float32(m.Get(field(m, "point_size")).Float()),
		WindowWidth:  int32(m.Get(field(m, "window_width")).Int()),
		WindowHeight: int32(m.Get(field(m, "window_height")).Int()),
		Loader:       getString(m, "loader"),
		Source:       getString(m, "source"),
	}
}

func field(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("pb: %s has no field %s", m.Descriptor().FullName(), name))
	}
	return fd
}

// Proto3 scalars at their zero value are left unset so they are not encoded.

func setInt64(m protoreflect.Message, name protoreflect.Name, v int64) {
	if v != 0 {
		m.Set(field(m, name), protoreflect.ValueOfInt64(v))
	}
}

func setInt32(m protoreflect.Message, name protoreflect.Name, v int32) {
	if v != 0 {
		m.Set(field(m, name), protoreflect.ValueOfInt32(v))
	}
}

func setBool(m protoreflect.Message, name protoreflect.Name, v bool) {
	if v {
		m.Set(field(m, name), protoreflect.ValueOfBool(v))
	}
}

func setString(m protoreflect.Message, name protoreflect.Name, v string) {
	if v != "" {
		m.Set(field(m, name), protoreflect.ValueOfString(v))
	}
}

func setBytes(m protoreflect.Message, name protoreflect.Name, v []byte) {
	if len(v) > 0 {
		m.Set(field(m, name), protoreflect.ValueOfBytes(v))
	}
}

func setFloats(m protoreflect.Message, name protoreflect.Name, v []float32) {
	if len(v) == 0 {
		return
	}
	list := m.Mutable(field(m, name)).List()
	for _, f := range v {
		list.Append(protoreflect.ValueOfFloat32(f))
	}
}

func getInt64(m protoreflect.Message, name protoreflect.Name) int64 {
	return m.Get(field(m, name)).Int()
}

func getBool(m protoreflect.Message, name protoreflect.Name) bool {
	return m.Get(field(m, name)).Bool()
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(field(m, name)).String()
}

func getBytes(m protoreflect.Message, name protoreflect.Name) []byte {
	b := m.Get(field(m, name)).Bytes()
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func getFloats(m protoreflect.Message, name protoreflect.Name) []float32 {
	list := m.Get(field(m, name)).List()
	if list.Len() == 0 {
		return nil
	}
	out := make([]float32, list.Len())
	for i := range out {
		out[i] = float32(list.Get(i).Float())
	}
	return out
}
