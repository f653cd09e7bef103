package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/banshee-data/lidar-visualizer/internal/config"
	"github.com/banshee-data/lidar-visualizer/internal/db"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/datasets"
	"github.com/banshee-data/lidar-visualizer/internal/monitoring"
	"github.com/banshee-data/lidar-visualizer/internal/version"
)

const envPrefix = "LIDARVIZ"

// app carries the state shared by the root command and its subcommands.
type app struct {
	v      *viper.Viper
	viewer *config.ViewerConfig
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	monitoring.SetupLogging(monitoring.LogOptions{Out: stderr})

	a := &app{v: viper.New(), viewer: config.EmptyViewerConfig()}
	root := a.newRootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, datasets.ErrSequenceRequired):
		fmt.Fprintln(stderr, `You must specify a sequence "--sequence"`)
	default:
		log.Error().Err(err).Msg("lidar_visualizer failed")
	}
	return 1
}

func (a *app) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "lidar_visualizer <data>",
		Short: "Play back LiDAR datasets to gRPC viewers and the browser",
		Long: `lidar_visualizer walks a LiDAR dataset frame by frame and hands every frame to
connected gRPC viewers, the HTTP status page and, optionally, a .vrlog recording.

Playback starts paused on the first frame of the window. Use the console keys
or the control API to play, step, seek and switch the background.`,
		Example:           rootExamples(),
		Version:           version.Version,
		Args:              cobra.ExactArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE:              a.runViewer,
	}
	root.SetVersionTemplate(version.String() + "\n")

	pf := root.PersistentFlags()
	pf.String("dataloader", "", "dataloader to use (guessed from the data path when omitted)")
	pf.IntP("sequence", "s", 0, "sequence number, required by sequence-based loaders")
	pf.StringP("topic", "t", "", "topic to read from multi-topic containers")
	pf.IntP("n-scans", "n", -1, "number of scans to play, -1 for all")
	pf.IntP("jump", "j", 0, "index of the first scan to play")
	pf.StringP("meta", "m", "", "sensor metadata or calibration file")
	pf.String("pattern", "", "filename glob for the generic loader")
	pf.String("compression", "", "recording compression: snappy, lz4 or none")
	pf.String("cache-db", "", "index cache database (default <user cache dir>/lidar_visualizer/index.db)")
	pf.Bool("no-cache", false, "do not read or write the index cache")
	pf.StringP("config", "c", "", "viewer config file (JSON, YAML or TOML)")
	pf.CountP("verbose", "v", "-v for debug logs (-vv for trace)")
	pf.String("log-format", "", "log output format: console or json (default console on a terminal)")
	pf.BoolP("quiet", "q", false, "only log warnings and errors")

	f := root.Flags()
	f.Float64("fps", 10, "maximum playback rate, 0 plays as fast as frames load")
	f.String("listen", "localhost:50051", "gRPC viewer address, empty disables the stream")
	f.String("http", "localhost:8080", "HTTP status and browser view address, empty disables it")
	f.String("record", "", "record played frames to this .vrlog directory")
	f.Bool("no-console", false, "disable the interactive console")

	root.AddCommand(
		a.newInfoCommand(),
		a.newExportCommand(),
		a.newRecordCommand(),
		a.newRemoteCommand(),
		a.newMigrateCommand(),
	)
	return root
}

func rootExamples() string {
	var b strings.Builder
	b.WriteString("  lidar_visualizer ./velodyne_points/data\n")
	b.WriteString("  lidar_visualizer --dataloader kitti --sequence 7 ./kitti/dataset\n")
	b.WriteString("  lidar_visualizer --meta sensor.json --n-scans 100 capture.pcap\n")
	b.WriteString("  lidar_visualizer --record out.vrlog --http :8080 ./scans\n\n")
	fmt.Fprintf(&b, "  Supported point cloud extensions: %s\n", strings.Join(datasets.SupportedExtensions(), ", "))
	fmt.Fprintf(&b, "  Available dataloaders: %s", strings.Join(datasets.Available(), ", "))
	return b.String()
}

// setup binds the flags of the running command into viper, configures
// logging and loads the optional viewer config.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	format := a.v.GetString("log-format")
	switch format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log-format must be console or json, got %q", format)
	}
	monitoring.SetupLogging(monitoring.LogOptions{
		Verbosity: a.v.GetInt("verbose"),
		Quiet:     a.v.GetBool("quiet"),
		Format:    format,
		Out:       cmd.ErrOrStderr(),
	})

	if path := a.v.GetString("config"); path != "" {
		cfg, err := config.LoadViewerConfig(path)
		if err != nil {
			return err
		}
		a.viewer = cfg
		log.Debug().Str("file", path).Msg("loaded viewer config")
	}
	// Config file values sit below flags and the environment.
	if a.viewer.FPS != nil {
		a.v.SetDefault("fps", *a.viewer.FPS)
	}
	if a.viewer.ListenAddr != nil {
		a.v.SetDefault("listen", *a.viewer.ListenAddr)
	}
	if a.viewer.HTTPAddr != nil {
		a.v.SetDefault("http", *a.viewer.HTTPAddr)
	}
	if a.viewer.Compression != nil {
		a.v.SetDefault("compression", *a.viewer.Compression)
	}

	for _, key := range a.v.AllKeys() {
		log.Trace().Msgf("%s=%v", key, a.v.Get(key))
	}
	return nil
}

// session is an opened dataset together with the loader settings it was
// opened with.
type session struct {
	loader datasets.Info
	path   string
	ds     datasets.Dataset
	cache  *db.IndexCache
	nScans int
	jump   int
}

func (s *session) Close() error {
	err := s.ds.Close()
	if s.cache != nil {
		if cerr := s.cache.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// openSession resolves the dataloader for dataPath, checks the loader flags
// against it and opens the dataset.
func (a *app) openSession(ctx context.Context, dataPath string) (*session, error) {
	name := strings.ToLower(strings.TrimSpace(a.v.GetString("dataloader")))
	path := dataPath
	if name == "" {
		guessed, guessedPath, err := datasets.Guess(nil, dataPath)
		if err != nil {
			return nil, err
		}
		name, path = guessed, guessedPath
		log.Info().Str("dataloader", name).Str("path", path).Msg("guessed dataloader")
	}
	info, err := datasets.Lookup(name)
	if err != nil {
		return nil, err
	}

	opts := datasets.Options{
		Topic:   a.v.GetString("topic"),
		Meta:    a.v.GetString("meta"),
		Pattern: a.v.GetString("pattern"),
	}
	if a.v.IsSet("sequence") {
		seq := a.v.GetInt("sequence")
		opts.Sequence = &seq
	}
	if info.NeedsSequence && opts.Sequence == nil {
		return nil, datasets.ErrSequenceRequired
	}
	if opts.Meta != "" {
		if _, err := os.Stat(opts.Meta); err != nil {
			return nil, fmt.Errorf("metadata file %s: %w", opts.Meta, err)
		}
	}
	if opts.Topic != "" && !info.UsesTopic {
		log.Warn().Str("dataloader", info.Name).Str("topic", opts.Topic).Msg("--topic is ignored by this dataloader")
	}

	s := &session{loader: info, path: path, nScans: a.v.GetInt("n-scans"), jump: a.v.GetInt("jump")}
	if !info.Jumpable && (s.jump != 0 || s.nScans != -1) {
		log.Warn().Str("dataloader", info.Name).Msg("this dataloader does not support --jump or --n-scans")
		log.Warn().Msg("playing the whole dataset")
		s.jump, s.nScans = 0, -1
	}

	if !a.v.GetBool("no-cache") {
		s.cache = a.openCache()
		opts.Cache = s.cache
	}

	ds, err := datasets.Open(ctx, info.Name, path, opts)
	if err != nil {
		if s.cache != nil {
			s.cache.Close()
		}
		return nil, err
	}
	s.ds = ds
	log.Info().Str("dataloader", info.Name).Str("path", path).Int("frames", ds.Len()).Msg("dataset opened")
	return s, nil
}

// openCache opens the index cache. A cache that cannot be opened only costs
// the counting pass, so failures are logged and playback goes on without it.
func (a *app) openCache() *db.IndexCache {
	path, err := a.cachePath()
	if err != nil {
		log.Warn().Err(err).Msg("index cache disabled")
		return nil
	}
	cache, err := db.NewIndexCache(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("index cache disabled")
		return nil
	}
	return cache
}

func (a *app) cachePath() (string, error) {
	if path := a.v.GetString("cache-db"); path != "" {
		return path, nil
	}
	return db.DefaultPath()
}
