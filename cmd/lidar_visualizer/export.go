package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/playback"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser"
)

func (a *app) newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <data>",
		Short: "Write one frame as an HTML scatter, a PNG bird's-eye view or a PCD file",
		Example: `  lidar_visualizer export ./scans --frame 12 --out frame.html
  lidar_visualizer export capture.pcap --meta sensor.json --format pcd --out -`,
		Args: cobra.ExactArgs(1),
		RunE: a.runExport,
	}
	f := cmd.Flags()
	f.Int("frame", 0, "dataset index of the exported frame")
	f.String("format", "", "html, png or pcd (default from the --out extension)")
	f.StringP("out", "o", "", "output file, - for stdout")
	f.String("background", "", "black or white (default from the viewer config)")
	cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) runExport(cmd *cobra.Command, args []string) error {
	idx, _ := cmd.Flags().GetInt("frame")
	formatName, _ := cmd.Flags().GetString("format")
	out, _ := cmd.Flags().GetString("out")
	bgName, _ := cmd.Flags().GetString("background")

	format, err := visualiser.ParseExportFormat(formatName, out)
	if err != nil {
		return err
	}
	if bgName == "" {
		bgName = a.viewer.GetBackground()
	}
	bg, err := playback.ParseBackground(bgName)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := a.openSession(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	frame, err := s.ds.Frame(ctx, idx)
	if err != nil {
		return fmt.Errorf("frame %d: %w", idx, err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}
	if err := visualiser.Export(w, format, frame, bg); err != nil {
		return err
	}
	if f, ok := w.(*os.File); ok && out != "-" {
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
	}
	log.Info().Int("frame", idx).Int("points", frame.Len()).Str("format", string(format)).Str("out", out).Msg("frame exported")
	return nil
}
