// Package imagegen renders element icons through an external image model.
package imagegen

import (
	"errors"
	"fmt"
)

// ErrNoImage is returned when the provider completes without any image.
var ErrNoImage = errors.New("no image generated")

// Prompt is the fixed icon style applied to every concept.
func Prompt(concept string) string {
	return fmt.Sprintf("A 3D render icon of %s. Isometric view, smooth studio lighting, gentle gradients, isolated on a plain light pastel background. 3D illustration.", concept)
}
