package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/playback"
)

func (a *app) newRecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <data>",
		Short: "Convert the playback window of a dataset into a .vrlog recording",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runRecord,
	}
	cmd.Flags().StringP("out", "o", "", "recording directory (default a timestamped .vrlog in the temp dir)")
	return cmd
}

func (a *app) runRecord(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	ctx := cmd.Context()

	s, err := a.openSession(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	// The player only computes the window here. Frames are recorded
	// without pacing.
	player, err := playback.NewPlayer(s.ds, playback.Options{NScans: s.nScans, Jump: s.jump})
	if err != nil {
		return err
	}
	start, stop := player.Window()

	rec, err := a.newRecorder(out, s)
	if err != nil {
		return err
	}
	for i := start; i < stop; i++ {
		if err := ctx.Err(); err != nil {
			rec.Close()
			return err
		}
		frame, err := s.ds.Frame(ctx, i)
		if err != nil {
			rec.Close()
			return fmt.Errorf("frame %d: %w", i, err)
		}
		view := playback.View{
			ResetView: i == start,
			Index:     i,
			Start:     start,
			Stop:      stop,
			Total:     s.ds.Len(),
			Paused:    true,
			Progress:  i - start,
		}
		if err := rec.Render(ctx, frame, view); err != nil {
			rec.Close()
			return err
		}
		log.Debug().Int("index", i).Int("points", frame.Len()).Msg("frame recorded")
	}
	if err := rec.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recorded %d frames to %s\n", rec.FrameCount(), rec.Path())
	return nil
}
