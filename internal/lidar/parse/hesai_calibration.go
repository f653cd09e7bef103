package parse

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
)

// LoadPandar40PConfig reads an angle correction CSV (Channel,Elevation,Azimuth)
// and, when firetimePath is non-empty, a firetime CSV (Channel,fire time(μs)).
// Without a firetime file every channel gets a zero firing delay.
func LoadPandar40PConfig(fsys fsutil.FileSystem, anglePath, firetimePath string) (*Pandar40PConfig, error) {
	fsys = fsutil.OrOS(fsys)
	config := &Pandar40PConfig{}

	records, err := readCSV(fsys, anglePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load angle corrections: %w", err)
	}
	if err := parseAngleCorrections(records, config); err != nil {
		return nil, fmt.Errorf("failed to load angle corrections from %s: %w", anglePath, err)
	}

	if firetimePath == "" {
		for i := range config.FiretimeCorrections {
			config.FiretimeCorrections[i] = FiretimeCorrection{Channel: i + 1}
		}
	} else {
		records, err := readCSV(fsys, firetimePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load firetime corrections: %w", err)
		}
		if err := parseFiretimeCorrections(records, config); err != nil {
			return nil, fmt.Errorf("failed to load firetime corrections from %s: %w", firetimePath, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func readCSV(fsys fsutil.FileSystem, path string) ([][]string, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Vendor files are sometimes saved with a UTF-8 byte order mark.
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV %s: %w", path, err)
	}
	return records, nil
}

// parseAngleCorrections parses angle correction records
func parseAngleCorrections(records [][]string, config *Pandar40PConfig) error {
	if len(records) < 2 {
		return fmt.Errorf("insufficient data in angle correction file")
	}

	header := records[0]
	if len(header) != 3 ||
		strings.ToLower(strings.TrimSpace(header[0])) != "channel" ||
		strings.ToLower(strings.TrimSpace(header[1])) != "elevation" ||
		strings.ToLower(strings.TrimSpace(header[2])) != "azimuth" {
		return fmt.Errorf("invalid header in angle correction file, expected: Channel,Elevation,Azimuth")
	}

	for i, record := range records[1:] {
		if len(record) != 3 {
			return fmt.Errorf("invalid record at line %d: expected 3 fields", i+2)
		}
		channel, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return fmt.Errorf("invalid channel number at line %d: %w", i+2, err)
		}
		elevation, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return fmt.Errorf("invalid elevation at line %d: %w", i+2, err)
		}
		azimuth, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil {
			return fmt.Errorf("invalid azimuth at line %d: %w", i+2, err)
		}
		if channel < 1 || channel > CHANNELS_PER_BLOCK {
			return fmt.Errorf("channel number %d out of range (1-%d) at line %d", channel, CHANNELS_PER_BLOCK, i+2)
		}

		config.AngleCorrections[channel-1] = AngleCorrection{
			Channel:   channel,
			Elevation: elevation,
			Azimuth:   azimuth,
		}
	}

	return nil
}

// parseFiretimeCorrections parses firetime correction records
func parseFiretimeCorrections(records [][]string, config *Pandar40PConfig) error {
	if len(records) < 2 {
		return fmt.Errorf("insufficient data in firetime correction file")
	}

	header := records[0]
	if len(header) != 2 ||
		strings.ToLower(strings.TrimSpace(header[0])) != "channel" ||
		!strings.Contains(strings.ToLower(header[1]), "fire time") {
		return fmt.Errorf("invalid header in firetime correction file, expected: Channel,fire time(μs)")
	}

	for i, record := range records[1:] {
		if len(record) != 2 {
			return fmt.Errorf("invalid record at line %d: expected 2 fields", i+2)
		}
		channel, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return fmt.Errorf("invalid channel number at line %d: %w", i+2, err)
		}
		fireTime, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return fmt.Errorf("invalid fire time at line %d: %w", i+2, err)
		}
		if channel < 1 || channel > CHANNELS_PER_BLOCK {
			return fmt.Errorf("channel number %d out of range (1-%d) at line %d", channel, CHANNELS_PER_BLOCK, i+2)
		}

		config.FiretimeCorrections[channel-1] = FiretimeCorrection{
			Channel:  channel,
			FireTime: fireTime,
		}
	}

	return nil
}

// Validate checks that every channel has calibration data.
func (config *Pandar40PConfig) Validate() error {
	for i := 0; i < CHANNELS_PER_BLOCK; i++ {
		if config.AngleCorrections[i].Channel == 0 {
			return fmt.Errorf("missing angle correction for channel %d", i+1)
		}
		if config.FiretimeCorrections[i].Channel == 0 {
			return fmt.Errorf("missing firetime correction for channel %d", i+1)
		}
	}
	return nil
}
