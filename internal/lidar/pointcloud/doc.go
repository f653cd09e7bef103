// Package pointcloud defines the frame model shared by dataset loaders,
// the playback loop and the renderers: a timestamped set of 3D points with
// optional per-point intensity and colour, plus colour mapping and
// decimation helpers.
package pointcloud
