package sensor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mjpeg-stream-server/internal/convert"
	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/internal/memtier"
	"mjpeg-stream-server/internal/stream"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAlloc() *memtier.Allocator {
	return memtier.New(memtier.WithFastBudget(1<<20), memtier.WithSlowLimit(64<<20), memtier.WithLogger(quietLogger()))
}

func acquire(t *testing.T, s Sensor) stream.Frame {
	t.Helper()
	f, err := s.Acquire()
	require.NoError(t, err)
	out := *f
	out.Data = bytes.Clone(f.Data)
	s.Release(f)
	return out
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution("qvga")
	require.NoError(t, err)
	assert.Equal(t, Resolution{"QVGA", 320, 240}, r)

	_, err = ParseResolution("8K")
	assert.True(t, errors.IsInvalid(err))

	all := Resolutions()
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Width*all[i].Height, all[i-1].Width*all[i-1].Height)
	}
}

func TestPatternProducesConfiguredFormat(t *testing.T) {
	formats := []string{"rgb565", "yuv422", "grayscale", "bgr24"}
	for _, name := range formats {
		t.Run(name, func(t *testing.T) {
			s, err := Init(Config{Kind: KindPattern, Resolution: "QQVGA", PixelFormat: name}, newAlloc(), quietLogger())
			require.NoError(t, err)
			defer s.Close()

			f := acquire(t, s)
			assert.Equal(t, name, f.Format.String())
			assert.Equal(t, 160, f.Width)
			assert.Equal(t, 120, f.Height)
			assert.Len(t, f.Data, convert.FrameSize(f.Format, 160, 120))
		})
	}
}

func TestPatternJPEGDecodes(t *testing.T) {
	s, err := Init(Config{Kind: KindPattern, Resolution: "QVGA", PixelFormat: "jpeg", Quality: 50}, newAlloc(), quietLogger())
	require.NoError(t, err)
	defer s.Close()

	f := acquire(t, s)
	assert.Equal(t, stream.FormatJPEG, f.Format)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(f.Data))
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 240, cfg.Height)
}

func TestPatternFramesChange(t *testing.T) {
	s, err := Init(Config{Resolution: "QQVGA", PixelFormat: "grayscale"}, newAlloc(), quietLogger())
	require.NoError(t, err)
	defer s.Close()

	a := acquire(t, s)
	b := acquire(t, s)
	assert.NotEqual(t, a.Data, b.Data)
}

func TestUnsupportedPixelFormatFallsBackToGrayscale(t *testing.T) {
	s, err := Init(Config{Resolution: "QQVGA", PixelFormat: "raw12"}, newAlloc(), quietLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, stream.FormatGrayscale, s.Info().Format)
	assert.Equal(t, stream.FormatGrayscale, acquire(t, s).Format)
}

func TestUnavailableEvery(t *testing.T) {
	s, err := Init(Config{Resolution: "QQVGA", PixelFormat: "grayscale", UnavailableEvery: 3}, newAlloc(), quietLogger())
	require.NoError(t, err)
	defer s.Close()

	for i := 1; i <= 6; i++ {
		f, err := s.Acquire()
		if i%3 == 0 {
			assert.ErrorIs(t, err, stream.ErrUnavailable, "acquire %d", i)
			continue
		}
		require.NoError(t, err, "acquire %d", i)
		s.Release(f)
	}
}

func TestAcquireRequiresRelease(t *testing.T) {
	s, err := Init(Config{Resolution: "QQVGA", PixelFormat: "grayscale"}, newAlloc(), quietLogger())
	require.NoError(t, err)
	defer s.Close()

	f, err := s.Acquire()
	require.NoError(t, err)
	_, err = s.Acquire()
	assert.Error(t, err)

	s.Release(f)
	_, err = s.Acquire()
	assert.NoError(t, err)
}

func TestBuffersComeFromConfiguredTier(t *testing.T) {
	alloc := newAlloc()
	s, err := Init(Config{Resolution: "QQVGA", PixelFormat: "grayscale", Storage: "fast"}, alloc, quietLogger())
	require.NoError(t, err)

	acquire(t, s)
	assert.Equal(t, memtier.TierFast, s.Info().Tier)
	assert.Positive(t, alloc.Stats().FastUsed)

	require.NoError(t, s.Close())
	assert.Zero(t, alloc.Stats().FastUsed)
}

func TestSensorAllocationFailureIsFatal(t *testing.T) {
	alloc := memtier.New(memtier.WithFastBudget(0), memtier.WithSlowLimit(1024), memtier.WithLogger(quietLogger()))
	s, err := Init(Config{Resolution: "VGA", PixelFormat: "rgb565"}, alloc, quietLogger())
	require.NoError(t, err)

	_, err = s.Acquire()
	assert.True(t, errors.IsFatal(err))
}

func TestInitRejectsBadConfig(t *testing.T) {
	_, err := Init(Config{Kind: "v4l2", Resolution: "VGA"}, newAlloc(), quietLogger())
	assert.True(t, errors.IsInvalid(err))

	_, err = Init(Config{Resolution: "VGA", Storage: "nvme"}, newAlloc(), quietLogger())
	assert.True(t, errors.IsInvalid(err))

	_, err = Init(Config{Kind: KindFiles, Resolution: "VGA"}, newAlloc(), quietLogger())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = Init(Config{Kind: KindFiles, Resolution: "VGA", Dir: t.TempDir()}, newAlloc(), quietLogger())
	assert.True(t, errors.IsInvalid(err))
}

func writeStill(t *testing.T, dir, name string, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
	return buf.Bytes()
}

func TestFilesCyclesStillsInOrder(t *testing.T) {
	dir := t.TempDir()
	first := writeStill(t, dir, "a.jpg", 64, 48, color.White)
	second := writeStill(t, dir, "b.JPEG", 32, 24, color.Black)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))

	s, err := Init(Config{Kind: KindFiles, Resolution: "QQVGA", PixelFormat: "jpeg", Dir: dir}, newAlloc(), quietLogger())
	require.NoError(t, err)
	defer s.Close()

	f := acquire(t, s)
	assert.Equal(t, first, f.Data)
	assert.Equal(t, 64, f.Width)

	f = acquire(t, s)
	assert.Equal(t, second, f.Data)
	assert.Equal(t, 24, f.Height)

	f = acquire(t, s)
	assert.Equal(t, first, f.Data)
}

func TestFilesScalesToRawFormat(t *testing.T) {
	dir := t.TempDir()
	writeStill(t, dir, "still.jpg", 64, 48, color.Gray{Y: 200})

	s, err := Init(Config{Kind: KindFiles, Resolution: "QQVGA", PixelFormat: "grayscale", Dir: dir}, newAlloc(), quietLogger())
	require.NoError(t, err)
	defer s.Close()

	f := acquire(t, s)
	assert.Equal(t, stream.FormatGrayscale, f.Format)
	assert.Equal(t, 160, f.Width)
	require.Len(t, f.Data, 160*120)
	assert.InDelta(t, 200, int(f.Data[len(f.Data)/2]), 6)
}
