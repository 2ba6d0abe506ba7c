package predictor

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/jguan/solverd/pkg/errs"
	"github.com/jguan/solverd/pkg/inference"
)

// TileSize is the edge length in pixels of answer and reference tiles.
const TileSize = 200

// classifier scores tiles along the top row of a challenge image and picks
// the best one.
type classifier struct {
	kind    Kind
	session inference.Session
	err     error
}

func (c *classifier) Active() bool {
	return c.session != nil
}

func (c *classifier) Predict(img image.Image) (int, error) {
	if !c.Active() {
		return 0, c.unavailable("predictor inactive")
	}

	tiles, err := answerTiles(img)
	if err != nil {
		return 0, err
	}

	var reference image.Image
	if c.kind == KindImagePair {
		if reference, err = referenceTile(img); err != nil {
			return 0, err
		}
	}

	best, bestScore := 0, float32(0)
	for i, tile := range tiles {
		inputs := []image.Image{tile}
		if reference != nil {
			inputs = append(inputs, reference)
		}
		score, err := c.session.Score(inputs...)
		if err != nil {
			return 0, fmt.Errorf("score tile %d: %w", i, err)
		}
		if i == 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, nil
}

func (c *classifier) unavailable(msg string) error {
	if c.err == nil {
		return errs.New(errs.KindPredictorUnavailable, msg)
	}
	return errs.Wrap(c.err, errs.KindPredictorUnavailable, msg)
}

func (c *classifier) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

// answerTiles splits the top row of img into TileSize squares.
func answerTiles(img image.Image) ([]image.Image, error) {
	b := img.Bounds()
	n := b.Dx() / TileSize
	if n == 0 || b.Dy() < TileSize {
		return nil, errs.New(errs.KindInvalidInput,
			fmt.Sprintf("image %dx%d is smaller than one %dpx tile", b.Dx(), b.Dy(), TileSize))
	}

	tiles := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		x := b.Min.X + i*TileSize
		tiles = append(tiles, crop(img, image.Rect(x, b.Min.Y, x+TileSize, b.Min.Y+TileSize)))
	}
	return tiles, nil
}

// referenceTile returns the TileSize square directly below the first answer
// tile.
func referenceTile(img image.Image) (image.Image, error) {
	b := img.Bounds()
	if b.Dx() < TileSize || b.Dy() < 2*TileSize {
		return nil, errs.New(errs.KindInvalidInput,
			fmt.Sprintf("image %dx%d has no reference tile", b.Dx(), b.Dy()))
	}
	r := image.Rect(b.Min.X, b.Min.Y+TileSize, b.Min.X+TileSize, b.Min.Y+2*TileSize)
	return crop(img, r), nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
