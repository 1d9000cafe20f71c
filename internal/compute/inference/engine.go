package inference

import (
	"context"

	"github.com/pkg/errors"
)

// Engine is the local-inference collaborator. Intermediate stages pass
// opaque bytes between RunUnits calls; the last stage renders the result.
type Engine interface {
	// RunUnits applies the given units, in order, to input.
	RunUnits(ctx context.Context, units []int, input []byte) ([]byte, error)

	// GenerateFinalOutput turns the last stage's output into a result.
	GenerateFinalOutput(ctx context.Context, input []byte) (string, error)
}

// Preloader is implemented by engines that can warm up assigned units.
type Preloader interface {
	Preload(ctx context.Context, modelID string, units []int) error
}

// RunLocal runs every unit of a totalUnits model and the terminal step on
// the local engine. It is the fallback path.
func RunLocal(ctx context.Context, e Engine, totalUnits int, input []byte) (string, error) {
	units := make([]int, totalUnits)
	for i := range units {
		units[i] = i
	}

	out, err := e.RunUnits(ctx, units, input)
	if err != nil {
		return "", errors.Wrap(err, "local run failed")
	}
	result, err := e.GenerateFinalOutput(ctx, out)
	if err != nil {
		return "", errors.Wrap(err, "local final output failed")
	}
	return result, nil
}
