package storage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/errors"
	"meetrec-server/pkg/metrics"
)

// CompressorConfig controls artifact compression
type CompressorConfig struct {
	// FFmpegPath is the ffmpeg binary to invoke
	FFmpegPath string

	// BitrateKbps is the target audio bitrate
	BitrateKbps int

	// Format is the output container/codec extension (opus, ogg, m4a)
	Format string

	// SampleRate of the compressed output
	SampleRate int

	// BatchSize caps how many artifacts one compression pass touches
	BatchSize int
}

// DefaultCompressorConfig returns the standard archival settings
func DefaultCompressorConfig() CompressorConfig {
	return CompressorConfig{
		FFmpegPath:  "ffmpeg",
		BitrateKbps: 32,
		Format:      "opus",
		SampleRate:  16000,
		BatchSize:   8,
	}
}

// ffmpegRunner executes a compression command. Swappable in tests.
type ffmpegRunner func(ctx context.Context, binary string, args []string) error

// Compressor shrinks raw .wav artifacts into low-bitrate archives via
// ffmpeg. The original file is only removed after the compressed output has
// been written and verified; a failure at any point leaves the original
// untouched.
type Compressor struct {
	logger *logrus.Logger
	config CompressorConfig
	store  *ArtifactStore
	runner ffmpegRunner
}

// NewCompressor creates a compressor over the given store
func NewCompressor(logger *logrus.Logger, config CompressorConfig, store *ArtifactStore) *Compressor {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.BitrateKbps <= 0 {
		config.BitrateKbps = 32
	}
	if config.Format == "" {
		config.Format = "opus"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 8
	}

	c := &Compressor{
		logger: logger,
		config: config,
		store:  store,
	}
	c.runner = c.runFFmpeg
	return c
}

func (c *Compressor) runFFmpeg(ctx context.Context, binary string, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Compress converts one artifact to the archival format. Returns the updated
// artifact. Compressing an already-compressed artifact is a no-op.
func (c *Compressor) Compress(ctx context.Context, id string) (Artifact, error) {
	artifact, err := c.store.Find(id)
	if err != nil {
		return Artifact{}, err
	}
	if artifact.Compressed {
		return artifact, nil
	}

	outPath := strings.TrimSuffix(artifact.Path, filepath.Ext(artifact.Path)) + "." + c.config.Format
	tmpPath := outPath + ".tmp"

	args := []string{
		"-y",
		"-i", artifact.Path,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", c.config.SampleRate),
		"-b:a", fmt.Sprintf("%dk", c.config.BitrateKbps),
		"-f", c.config.Format,
		tmpPath,
	}

	if err := c.runner(ctx, c.config.FFmpegPath, args); err != nil {
		os.Remove(tmpPath)
		return Artifact{}, errors.Wrap(errors.ErrStorageIO, "ffmpeg compression failed").
			WithFields(map[string]interface{}{
				"artifact_id": id,
				"cause":       err.Error(),
			})
	}

	// Verify before touching the original.
	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		os.Remove(tmpPath)
		return Artifact{}, errors.Wrap(errors.ErrStorageIO, "compressed output missing or empty").
			WithField("artifact_id", id)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return Artifact{}, errors.Wrap(errors.ErrStorageIO, "failed to move compressed artifact into place").
			WithField("path", outPath)
	}

	// Original goes last, once the replacement is in place.
	if err := os.Remove(artifact.Path); err != nil && !os.IsNotExist(err) {
		c.logger.WithFields(logrus.Fields{
			"path":  artifact.Path,
			"error": err,
		}).Warn("Failed to remove original after compression")
	}

	ratio := float64(info.Size()) / float64(artifact.SizeBytes)
	if metrics.ArtifactsCompressed != nil {
		metrics.ArtifactsCompressed.Inc()
	}
	if metrics.CompressionRatio != nil {
		metrics.CompressionRatio.Observe(ratio)
	}

	c.logger.WithFields(logrus.Fields{
		"artifact_id": id,
		"raw_bytes":   artifact.SizeBytes,
		"out_bytes":   info.Size(),
		"ratio":       fmt.Sprintf("%.3f", ratio),
	}).Info("Compressed audio artifact")

	return c.store.Find(id)
}

// CompressBatch compresses up to BatchSize uncompressed artifacts, oldest
// first, and returns how many were converted. Individual failures are logged
// and skipped so one bad file cannot stall the batch.
func (c *Compressor) CompressBatch(ctx context.Context) (int, error) {
	artifacts, err := c.store.List()
	if err != nil {
		return 0, err
	}

	done := 0
	for _, artifact := range artifacts {
		if artifact.Compressed {
			continue
		}
		if done >= c.config.BatchSize {
			break
		}
		if ctx.Err() != nil {
			return done, ctx.Err()
		}

		if _, err := c.Compress(ctx, artifact.ID); err != nil {
			c.logger.WithFields(logrus.Fields{
				"artifact_id": artifact.ID,
				"error":       err,
			}).Warn("Skipping artifact that failed to compress")
			continue
		}
		done++
	}
	return done, nil
}
