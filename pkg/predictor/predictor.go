// Package predictor answers image challenges. Each challenge type maps to a
// Predictor built from one or more model files; the Registry owns them and
// routes requests by type.
package predictor

import (
	"image"
	"sort"
)

// Predictor classifies a challenge image into the index of the correct
// answer tile. Implementations are immutable after construction and safe
// for concurrent use.
type Predictor interface {
	Predict(img image.Image) (int, error)
	// Active reports whether every model the predictor needs was resolved
	// and loaded.
	Active() bool
}

// Kind is the input shape a predictor's model expects.
type Kind string

const (
	// KindImage scores each answer tile on its own.
	KindImage Kind = "image"
	// KindImagePair scores each answer tile together with a reference tile.
	KindImagePair Kind = "image_pair"
)

// Variant describes how to build the predictor of one challenge type.
type Variant struct {
	Type   string
	Kind   Kind
	Models []string
}

func variant(typ string, kind Kind) Variant {
	return Variant{Type: typ, Kind: kind, Models: []string{typ + ".onnx"}}
}

// DefaultVariants lists the challenge types solverd knows how to build.
var DefaultVariants = []Variant{
	variant("3d_rollball_animals", KindImagePair),
	variant("3d_rollball_objects", KindImagePair),
	variant("BrokenJigsawbrokenjigsaw_swap", KindImagePair),
	variant("coordinatesmatch", KindImagePair),
	variant("dicematch", KindImagePair),
	variant("frankenhead", KindImage),
	variant("hopscotch_highsec", KindImage),
	variant("knotsCrossesCircle", KindImagePair),
	variant("numericalmatch", KindImagePair),
	variant("penguin", KindImage),
	variant("rockstack", KindImage),
	variant("shadows", KindImagePair),
	variant("train_coordinates", KindImagePair),
}

// VariantTypes returns the challenge types of vs in sorted order.
func VariantTypes(vs []Variant) []string {
	types := make([]string, 0, len(vs))
	for _, v := range vs {
		types = append(types, v.Type)
	}
	sort.Strings(types)
	return types
}
