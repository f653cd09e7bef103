package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/playback"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser/pb"
)

const remoteTimeout = 10 * time.Second

func (a *app) newRemoteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote <addr> <command> [frame]",
		Short: "Control a running viewer over gRPC",
		Long: fmt.Sprintf(`Send a playback command to a running lidar_visualizer.

Commands: %s.
"status" prints the playback state and "watch" prints a line for every frame
streamed until interrupted.`, strings.Join(playback.CommandNames(), ", ")),
		Example: `  lidar_visualizer remote localhost:50051 seek 120
  lidar_visualizer remote localhost:50051 pause --background white
  lidar_visualizer remote localhost:50051 watch --ratio 0.1`,
		Args: cobra.RangeArgs(2, 3),
		RunE: a.runRemote,
	}
	f := cmd.Flags()
	f.String("background", "", "also switch the background to black or white")
	f.Float32("ratio", 0, "decimation ratio requested by watch, 0 for full frames")
	f.String("name", "lidar_visualizer remote", "client name reported by watch")
	return cmd
}

func (a *app) runRemote(cmd *cobra.Command, args []string) error {
	addr, command := args[0], strings.ToLower(args[1])
	var frame int64
	if len(args) == 3 {
		n, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid frame number %q", args[2])
		}
		frame = n
	}
	background, _ := cmd.Flags().GetString("background")

	client, err := visualiser.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	switch command {
	case "watch":
		ratio, _ := cmd.Flags().GetFloat32("ratio")
		name, _ := cmd.Flags().GetString("name")
		return watch(ctx, client, out, &pb.StreamRequest{ClientName: name, DecimationRatio: ratio})
	case "status":
		ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
		defer cancel()
		st, err := client.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(out, st)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	st, err := client.Control(ctx, command, frame, background)
	if err != nil {
		return err
	}
	printStatus(out, st)
	return nil
}

func watch(ctx context.Context, client *visualiser.Client, out io.Writer, req *pb.StreamRequest) error {
	err := client.Stream(ctx, req, func(f *pb.Frame) error {
		state := "playing"
		if f.Paused {
			state = "paused"
		}
		fmt.Fprintf(out, "frame %d/%d points=%d %s %s background source=%s\n",
			f.Index, f.TotalFrames, len(f.X), state, f.Background, f.Source)
		return nil
	})
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}

func printStatus(out io.Writer, st *pb.PlaybackStatus) {
	state := "paused"
	if st.Playing {
		state = "playing"
	}
	fmt.Fprintf(out, "frame %d [%d/%d] %s, %s background, %d clients\n",
		st.Index, st.Progress+1, st.Total, state, st.Background, st.Clients)
}
