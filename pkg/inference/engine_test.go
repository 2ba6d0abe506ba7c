package inference

import (
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnavailable(t *testing.T) {
	s, err := Unavailable("no runtime linked").Load("/models/a.onnx")
	assert.Nil(t, s)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Contains(t, err.Error(), "no runtime linked")
	assert.Contains(t, err.Error(), "/models/a.onnx")

	wrapped := fmt.Errorf("load predictor: %w", err)
	assert.True(t, IsUnavailable(wrapped))
	assert.False(t, IsUnavailable(errors.New("other")))
}

func TestAdapters(t *testing.T) {
	var loaded []string
	engine := EngineFunc(func(paths ...string) (Session, error) {
		loaded = append(loaded, paths...)
		return Func(func(inputs ...image.Image) (float32, error) {
			return float32(len(inputs)), nil
		}), nil
	})

	s, err := engine.Load("a.onnx", "b.onnx")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.onnx", "b.onnx"}, loaded)

	score, err := s.Score(image.NewRGBA(image.Rect(0, 0, 1, 1)), image.NewRGBA(image.Rect(0, 0, 1, 1)))
	require.NoError(t, err)
	assert.Equal(t, float32(2), score)
	assert.NoError(t, s.Close())
}
