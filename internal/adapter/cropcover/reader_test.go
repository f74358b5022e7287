package cropcover

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwatch/farm-risk-etl/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeExtract(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cdl.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFetchCropPixels(t *testing.T) {
	t.Run("reads samples and fills the configured year", func(t *testing.T) {
		path := writeExtract(t, `{"latitude":38.53,"longitude":-122.88,"class_code":69,"year":2023}
{"latitude":38.54,"longitude":-122.87,"class_code":75}

{"latitude":38.55,"longitude":-122.86}
`)
		r := NewReader(config.CropCoverConfig{Path: path, Year: 2024}, discardLogger())
		rows, err := r.FetchCropPixels(context.Background())
		require.NoError(t, err)
		require.Len(t, rows, 3)

		require.NotNil(t, rows[0].ClassCode)
		assert.Equal(t, 69, *rows[0].ClassCode)
		assert.Equal(t, 2023, rows[0].Year)

		// Missing year falls back to the configured CDL year.
		assert.Equal(t, 2024, rows[1].Year)

		// Nodata pixels pass through; the normalizer drops and counts them.
		assert.Nil(t, rows[2].ClassCode)
	})

	t.Run("missing file fails", func(t *testing.T) {
		r := NewReader(config.CropCoverConfig{Path: filepath.Join(t.TempDir(), "nope.jsonl")}, discardLogger())
		_, err := r.FetchCropPixels(context.Background())
		require.Error(t, err)
	})

	t.Run("bad line fails with its line number", func(t *testing.T) {
		path := writeExtract(t, `{"latitude":38.53,"longitude":-122.88,"class_code":69}
oops
`)
		r := NewReader(config.CropCoverConfig{Path: path}, discardLogger())
		_, err := r.FetchCropPixels(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		path := writeExtract(t, `{"latitude":38.53,"longitude":-122.88,"class_code":69}`)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		reader := NewReader(config.CropCoverConfig{Path: path}, discardLogger())
		_, err := reader.FetchCropPixels(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}
