package visualiser

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser/pb"
)

// Client talks to a running viewer server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the viewer service at addr. The connection is plaintext;
// extra options are appended after the defaults.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMsgSize)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial viewer at %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Stream calls fn for every frame until the server ends the stream, ctx is
// done, or fn returns an error. A clean end of stream returns nil.
func (c *Client) Stream(ctx context.Context, req *pb.StreamRequest, fn func(*pb.Frame) error) error {
	desc := &grpc.StreamDesc{StreamName: "StreamFrames", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, pb.StreamFramesMethod)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req.Message()); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		m := pb.NewFrameMessage()
		if err := stream.RecvMsg(m); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(pb.FrameFromMessage(m)); err != nil {
			return err
		}
	}
}

// Control sends a playback command. Frame is used by seek; background may be
// empty.
func (c *Client) Control(ctx context.Context, command string, frame int64, background string) (*pb.PlaybackStatus, error) {
	req := &pb.ControlRequest{Command: command, Frame: frame, Background: background}
	out := pb.NewPlaybackStatusMessage()
	if err := c.conn.Invoke(ctx, pb.ControlMethod, req.Message(), out); err != nil {
		return nil, err
	}
	return pb.PlaybackStatusFromMessage(out), nil
}

// Status fetches the playback status.
func (c *Client) Status(ctx context.Context) (*pb.PlaybackStatus, error) {
	out := pb.NewPlaybackStatusMessage()
	if err := c.conn.Invoke(ctx, pb.GetStatusMethod, pb.NewStatusRequestMessage(), out); err != nil {
		return nil, err
	}
	return pb.PlaybackStatusFromMessage(out), nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
