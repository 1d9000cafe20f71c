package inference

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

var stateMagic = []byte("ZCS1")

// ReferenceConfig 参考引擎参数
type ReferenceConfig struct {
	Width      int   // state vector width
	TotalUnits int   // number of units in the model
	Seed       int64 // weight seed, shared by every node
}

// Reference is a deterministic stand-in model: each unit applies
// tanh(W_u · x) to a fixed-width state. Every node with the same config
// computes bit-identical results, so distributed and local runs agree.
type Reference struct {
	cfg     ReferenceConfig
	weights sync.Map // unit -> *mat.Dense
}

// NewReference creates a reference engine.
func NewReference(cfg ReferenceConfig) (*Reference, error) {
	if cfg.Width <= 0 {
		cfg.Width = 16
	}
	if cfg.TotalUnits <= 0 {
		return nil, errors.Errorf("total units must be positive, got %d", cfg.TotalUnits)
	}
	return &Reference{cfg: cfg}, nil
}

func (r *Reference) RunUnits(ctx context.Context, units []int, input []byte) ([]byte, error) {
	x, err := r.decode(input)
	if err != nil {
		return nil, err
	}

	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, err := r.weightsFor(u)
		if err != nil {
			return nil, err
		}
		var y mat.VecDense
		y.MulVec(w, x)
		for i := 0; i < y.Len(); i++ {
			y.SetVec(i, math.Tanh(y.AtVec(i)))
		}
		x = &y
		runtime.Gosched()
	}
	return r.encode(x), nil
}

func (r *Reference) GenerateFinalOutput(ctx context.Context, input []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	x, err := r.decode(input)
	if err != nil {
		return "", err
	}
	quantized := make([]byte, x.Len())
	for i := range quantized {
		quantized[i] = byte(math.Round((x.AtVec(i) + 1) * 127.5))
	}
	return "ref:" + hex.EncodeToString(quantized), nil
}

// Preload builds the weights of the assigned units ahead of the first task.
func (r *Reference) Preload(ctx context.Context, modelID string, units []int) error {
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.weightsFor(u); err != nil {
			return err
		}
	}
	log.Debug().Str("model_id", modelID).Ints("units", units).Msg("Preloaded units")
	return nil
}

func (r *Reference) weightsFor(unit int) (*mat.Dense, error) {
	if unit < 0 || unit >= r.cfg.TotalUnits {
		return nil, errors.Errorf("unit %d outside model of %d units", unit, r.cfg.TotalUnits)
	}
	if w, ok := r.weights.Load(unit); ok {
		return w.(*mat.Dense), nil
	}

	n := r.cfg.Width
	rnd := rand.New(rand.NewSource(r.cfg.Seed*1_000_003 + int64(unit)))
	scale := 1 / math.Sqrt(float64(n))
	data := make([]float64, n*n)
	for i := range data {
		data[i] = rnd.NormFloat64() * scale
	}
	w, _ := r.weights.LoadOrStore(unit, mat.NewDense(n, n, data))
	return w.(*mat.Dense), nil
}

// decode reads an encoded state, or embeds raw input bytes.
func (r *Reference) decode(input []byte) (*mat.VecDense, error) {
	n := r.cfg.Width
	if bytes.HasPrefix(input, stateMagic) {
		body := input[len(stateMagic):]
		if len(body) != n*8 {
			return nil, errors.Errorf("state of %d bytes does not match width %d", len(body), n)
		}
		v := make([]float64, n)
		for i := range v {
			v[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[i*8:]))
		}
		return mat.NewVecDense(n, v), nil
	}

	v := make([]float64, n)
	for i, b := range input {
		v[i%n] += float64(b)/255 - 0.5
	}
	for i := range v {
		v[i] = math.Tanh(v[i] + float64(i)/float64(n))
	}
	return mat.NewVecDense(n, v), nil
}

func (r *Reference) encode(x *mat.VecDense) []byte {
	out := make([]byte, len(stateMagic)+x.Len()*8)
	copy(out, stateMagic)
	for i := 0; i < x.Len(); i++ {
		binary.LittleEndian.PutUint64(out[len(stateMagic)+i*8:], math.Float64bits(x.AtVec(i)))
	}
	return out
}
