package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ethotrack/internal/fsutil"
)

func TestSliceSource_ExhaustAndRestart(t *testing.T) {
	src := NewSliceSource([]Frame{
		{T: 0, Image: Uniform(4, 3, 1)},
		{T: 40, Image: Uniform(4, 3, 2)},
	})
	ctx := context.Background()

	assert.Equal(t, image.Rect(0, 0, 4, 3), src.Bounds())

	f, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.T)
	f, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), f.T)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, src.Restart())
	f, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), f.Image.GrayAt(0, 0).Y)
}

func TestSliceSource_CancelledContext(t *testing.T) {
	src := NewSliceSource([]Frame{{Image: Uniform(1, 1, 0)}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageDirSource(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	rgba := image.NewRGBA(image.Rect(0, 0, 6, 4))
	rgba.Set(1, 1, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	mem.WriteFile("frames/0001.png", encodePNG(t, rgba))
	mem.WriteFile("frames/0000.png", encodePNG(t, Uniform(6, 4, 9)))
	mem.WriteFile("frames/notes.txt", []byte("ignored"))

	src, err := NewImageDirSource(mem, "frames", 40*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 4), src.Bounds())

	ctx := context.Background()
	f0, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f0.T)
	assert.Equal(t, uint8(9), f0.Image.GrayAt(0, 0).Y)

	f1, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), f1.T)
	assert.Equal(t, uint8(255), f1.Image.GrayAt(1, 1).Y)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestImageDirSource_Errors(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	_, err := NewImageDirSource(mem, "missing", time.Second)
	assert.Error(t, err)

	mem.WriteFile("txt/a.txt", []byte("x"))
	_, err = NewImageDirSource(mem, "txt", time.Second)
	assert.Error(t, err)

	_, err = NewImageDirSource(mem, "txt", 0)
	assert.Error(t, err)
}

func TestToGray_SubImageRebased(t *testing.T) {
	g := Uniform(10, 10, 0)
	g.SetGray(5, 5, color.Gray{Y: 77})
	sub := g.SubImage(image.Rect(4, 4, 8, 8))
	out := ToGray(sub)
	assert.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())
	assert.Equal(t, uint8(77), out.GrayAt(1, 1).Y)
}
