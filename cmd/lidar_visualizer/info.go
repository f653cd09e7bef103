package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func (a *app) newInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <data>",
		Short: "Describe a dataset and its first frames",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runInfo,
	}
	cmd.Flags().Int("limit", 20, "maximum number of frames listed")
	return cmd
}

func (a *app) runInfo(cmd *cobra.Command, args []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	s, err := a.openSession(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	size, err := diskUsage(s.path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Loader:  %s (%s)\n", s.loader.Name, s.loader.Description)
	fmt.Fprintf(out, "Path:    %s\n", s.path)
	fmt.Fprintf(out, "Frames:  %d\n", s.ds.Len())
	fmt.Fprintf(out, "Size:    %s\n", humanize.Bytes(uint64(size)))

	n := min(limit, s.ds.Len())
	if n <= 0 {
		return nil
	}
	table := tablewriter.NewWriter(out)
	table.Header("Index", "Points", "Source", "Timestamp")
	for i := 0; i < n; i++ {
		frame, err := s.ds.Frame(ctx, i)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		stamp := ""
		if !frame.Timestamp.IsZero() {
			stamp = frame.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		source := frame.Source
		if rel, err := filepath.Rel(s.path, source); err == nil && !strings.HasPrefix(rel, "..") && rel != "." {
			source = rel
		}
		if err := table.Append([]string{strconv.Itoa(i), strconv.Itoa(frame.Len()), source, stamp}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	if rest := s.ds.Len() - n; rest > 0 {
		fmt.Fprintf(out, "... %d more frames\n", rest)
	}
	return nil
}

// diskUsage sums the size of path, walking it when it is a directory.
func diskUsage(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size %s: %w", path, err)
	}
	return total, nil
}
