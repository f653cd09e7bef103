package visualiser

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/playback"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser/pb"
)

// ViewerServer is the server API for the lidarviz.v1.Viewer service.
type ViewerServer interface {
	StreamFrames(req *pb.StreamRequest, stream FrameSender) error
	Control(ctx context.Context, req *pb.ControlRequest) (*pb.PlaybackStatus, error)
	GetStatus(ctx context.Context) (*pb.PlaybackStatus, error)
}

// FrameSender is the server side of a StreamFrames call.
type FrameSender interface {
	Context() context.Context
	Send(*pb.Frame) error
}

// RegisterViewerServer registers srv with a gRPC server.
func RegisterViewerServer(s grpc.ServiceRegistrar, srv ViewerServer) {
	s.RegisterService(&viewerServiceDesc, srv)
}

var viewerServiceDesc = grpc.ServiceDesc{
	ServiceName: pb.ServiceName,
	HandlerType: (*ViewerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Control", Handler: controlHandler},
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "StreamFrames",
		Handler:       streamFramesHandler,
		ServerStreams: true,
	}},
	Metadata: "lidarviz/v1/viewer.proto",
}

func controlHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := pb.NewControlRequestMessage()
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		st, err := srv.(ViewerServer).Control(ctx, pb.ControlRequestFromMessage(req.(*dynamicpb.Message)))
		if err != nil {
			return nil, err
		}
		return st.Message(), nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: pb.ControlMethod}, call)
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := pb.NewStatusRequestMessage()
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, _ any) (any, error) {
		st, err := srv.(ViewerServer).GetStatus(ctx)
		if err != nil {
			return nil, err
		}
		return st.Message(), nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: pb.GetStatusMethod}, call)
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	in := pb.NewStreamRequestMessage()
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ViewerServer).StreamFrames(pb.StreamRequestFromMessage(in), &frameSender{stream})
}

type frameSender struct {
	grpc.ServerStream
}

func (s *frameSender) Send(f *pb.Frame) error {
	return s.ServerStream.SendMsg(f.Message())
}

// StreamFrames streams every rendered frame to the caller until it
// disconnects or the publisher stops.
func (p *Publisher) StreamFrames(req *pb.StreamRequest, stream FrameSender) error {
	ratio := req.DecimationRatio
	if math.IsNaN(float64(ratio)) || ratio < 0 || ratio > 1 {
		return status.Errorf(codes.InvalidArgument, "decimation_ratio must be within [0, 1], got %v", ratio)
	}

	client, err := p.addClient(req.ClientName, ratio)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer p.removeClient(client.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case frame := <-client.frameCh:
			if err := stream.Send(frame); err != nil {
				log.Debug().Err(err).Str("client", client.id).Msg("viewer send failed")
				return err
			}
		}
	}
}

// Control applies a playback command on behalf of a viewer. A request with
// only a background set switches the background.
func (p *Publisher) Control(ctx context.Context, req *pb.ControlRequest) (*pb.PlaybackStatus, error) {
	controller := p.getController()
	if controller == nil {
		return nil, status.Error(codes.Unavailable, "no playback attached")
	}

	cmds, err := controlCommands(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	for _, cmd := range cmds {
		if err := controller.Do(ctx, cmd); err != nil {
			switch {
			case errors.Is(err, playback.ErrInvalidCommand):
				return nil, status.Error(codes.InvalidArgument, err.Error())
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil, status.FromContextError(err).Err()
			}
			return nil, status.Error(codes.Internal, err.Error())
		}
		log.Debug().Stringer("command", cmd).Msg("viewer control")
	}
	return p.Status(), nil
}

func controlCommands(req *pb.ControlRequest) ([]playback.Command, error) {
	var cmds []playback.Command
	if req.Command != "" {
		cmd, err := playback.ParseCommand(req.Command, int(req.Frame))
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	if req.Background != "" {
		bg, err := playback.ParseBackground(req.Background)
		if err != nil {
			return nil, err
		}
		kind := playback.CmdBlack
		if bg == playback.White {
			kind = playback.CmdWhite
		}
		cmds = append(cmds, playback.Command{Kind: kind})
	}
	if len(cmds) == 0 {
		return nil, errors.New("empty control request")
	}
	return cmds, nil
}

// GetStatus returns the current playback status.
func (p *Publisher) GetStatus(context.Context) (*pb.PlaybackStatus, error) {
	return p.Status(), nil
}
