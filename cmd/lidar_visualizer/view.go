package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/playback"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/recorder"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser"
	"github.com/banshee-data/lidar-visualizer/internal/monitoring"
)

// runViewer plays the dataset until the player quits or the context is
// cancelled.
func (a *app) runViewer(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := a.openSession(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	background, err := playback.ParseBackground(a.viewer.GetBackground())
	if err != nil {
		return err
	}
	metrics := monitoring.NewMetrics()

	pubCfg, err := a.publisherConfig(s)
	if err != nil {
		return err
	}
	pub := visualiser.NewPublisher(pubCfg, metrics)
	renderers := []playback.Renderer{pub}
	if pubCfg.ListenAddr != "" {
		if err := pub.Start(); err != nil {
			return err
		}
	}

	if dir := a.v.GetString("record"); dir != "" {
		rec, err := a.newRecorder(dir, s)
		if err != nil {
			pub.Close()
			return err
		}
		renderers = append(renderers, rec)
		log.Info().Str("path", rec.Path()).Msg("recording frames")
	}

	player, err := playback.NewPlayer(s.ds, playback.Options{
		NScans:     s.nScans,
		Jump:       s.jump,
		FPS:        a.v.GetFloat64("fps"),
		Background: background,
		Renderers:  renderers,
		Metrics:    metrics,
	})
	if err != nil {
		for _, r := range renderers {
			r.Close()
		}
		return err
	}
	defer func() {
		if err := player.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close renderers")
		}
	}()
	pub.SetController(player)
	start, stop := player.Window()
	log.Info().Int("start", start).Int("stop", stop).Int("total", s.ds.Len()).Msg("playback window")

	var httpErr chan error
	if addr := a.v.GetString("http"); addr != "" {
		ws, err := visualiser.NewWebServer(pub, metrics, s.cache)
		if err != nil {
			return err
		}
		httpErr = make(chan error, 1)
		go func() {
			err := ws.ListenAndServe(ctx, addr)
			if err != nil {
				cancel()
			}
			httpErr <- err
		}()
		log.Info().Str("addr", addr).Msg("HTTP server listening")
	}

	if !a.v.GetBool("no-console") && playback.ConsoleEnabled() {
		console, err := playback.NewConsole(player, playback.ConsoleConfig{})
		if err != nil {
			log.Warn().Err(err).Msg("console disabled")
		} else {
			defer console.Close()
			go func() {
				if err := console.Run(ctx); err != nil {
					log.Debug().Err(err).Msg("console stopped")
				}
			}()
		}
	}

	runErr := player.Run(ctx)
	cancel()
	if httpErr != nil {
		if err := <-httpErr; err != nil && runErr == nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	log.Info().Uint64("rendered", player.Status().Rendered).Msg("playback finished")
	return nil
}

// publisherConfig merges the viewer config file with the listen flag.
func (a *app) publisherConfig(s *session) (visualiser.Config, error) {
	mode, err := pointcloud.ParseDecimationMode(a.viewer.GetDecimationMode())
	if err != nil {
		return visualiser.Config{}, err
	}
	width, height := a.viewer.GetWindowSize()
	cfg := visualiser.DefaultConfig()
	cfg.ListenAddr = a.v.GetString("listen")
	cfg.MaxClients = a.viewer.GetMaxClients()
	cfg.ClientBuffer = a.viewer.GetClientBuffer()
	cfg.Decimation = mode
	cfg.DecimationRatio = a.viewer.GetDecimationRatio()
	cfg.VoxelSize = a.viewer.GetVoxelSize()
	cfg.PointSize = a.viewer.GetPointSize()
	cfg.WindowWidth, cfg.WindowHeight = width, height
	cfg.Loader = s.loader.Name
	cfg.Source = s.path
	return cfg, nil
}

func (a *app) newRecorder(dir string, s *session) (*recorder.Recorder, error) {
	name := a.v.GetString("compression")
	if name == "" {
		name = a.viewer.GetCompression()
	}
	compression, err := recorder.ParseCompression(name)
	if err != nil {
		return nil, err
	}
	return recorder.NewRecorder(dir, recorder.Options{
		Source:      s.path,
		Loader:      s.loader.Name,
		Compression: compression,
	})
}
