package scattering

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/transportlab/bte/bands"
	"github.com/transportlab/bte/coupling"
	"github.com/transportlab/bte/crystal"
	"github.com/transportlab/bte/pool"
	"github.com/transportlab/bte/smearing"
	"github.com/transportlab/bte/stats"
)

// energyCutoff excludes near-zero phonon energies (the acoustic modes at
// the zone center) from the scattering sums.
const energyCutoff = 1e-8

// PhOptions configures a PhBuilder. Pool defaults to a single rank,
// Workers to GOMAXPROCS.
type PhOptions struct {
	Pool    *pool.Pool
	Workers int

	Sweep *stats.Sweep

	// Outer states index the operator rows, Inner the q2 summation. They
	// are the same object for a full mesh-on-mesh build; a mismatched
	// pair (e.g. a path of outer points) restricts the build to
	// ModeDiagonal and needs Harmonic for the folded q3 partners.
	Outer, Inner *bands.BandStructure

	Coupling coupling.PhCoupling
	Delta    smearing.DeltaFunction
	Harmonic bands.Harmonic

	ReciprocalCell crystal.Mat3
	Logger         *slog.Logger
}

// PhBuilder assembles the three-phonon collision operator. The output
// shape is fixed at construction; calling a method of another shape is
// ErrConfiguration.
type PhBuilder struct {
	mode Mode
	PhOptions
}

// NewPhBuilder validates the options against the requested mode.
func NewPhBuilder(mode Mode, opts PhOptions) (*PhBuilder, error) {
	if !mode.valid() {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrConfiguration, int(mode))
	}
	if opts.Sweep == nil || opts.Outer == nil || opts.Inner == nil ||
		opts.Coupling == nil || opts.Delta == nil {
		return nil, fmt.Errorf("%w: missing required inputs", ErrConfiguration)
	}
	if !opts.Outer.Particle().IsPhonon() || !opts.Inner.Particle().IsPhonon() {
		return nil, fmt.Errorf("%w: phonon builder needs phonon bands", ErrConfiguration)
	}
	sameMesh := opts.Outer.Same(opts.Inner)
	if mode != ModeDiagonal && !sameMesh {
		return nil, fmt.Errorf("%w: %s mode needs identical inner and outer states",
			ErrConfiguration, mode)
	}
	if !sameMesh && opts.Harmonic == nil {
		return nil, fmt.Errorf("%w: mismatched meshes need a harmonic model for q3",
			ErrConfiguration)
	}
	// tetrahedron weights interpolate between on-mesh states; the folded
	// q3 partners of a mismatched build never land on the inner mesh, so
	// every weight would silently evaluate to zero
	if _, tet := opts.Delta.(*smearing.Tetrahedron); tet && !sameMesh {
		return nil, fmt.Errorf("%w: tetrahedron smearing needs identical inner and outer states",
			ErrConfiguration)
	}
	if opts.Pool == nil {
		opts.Pool = pool.Single()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PhBuilder{mode: mode, PhOptions: opts}, nil
}

// Diagonal builds the linewidth vector. ModeDiagonal only.
func (b *PhBuilder) Diagonal() (*Vector, error) {
	if b.mode != ModeDiagonal {
		return nil, fmt.Errorf("%w: builder is in %s mode", ErrConfiguration, b.mode)
	}
	lw, err := NewVector(b.Sweep.NumCalculations(), b.Outer.NumStates(), 1)
	if err != nil {
		return nil, err
	}
	if err := b.run(lw, nil, nil, nil); err != nil {
		return nil, err
	}
	return lw, nil
}

// Matrix builds the dense operator and its diagonal. ModeMatrix only.
func (b *PhBuilder) Matrix() (*Matrix, *Vector, error) {
	if b.mode != ModeMatrix {
		return nil, nil, fmt.Errorf("%w: builder is in %s mode", ErrConfiguration, b.mode)
	}
	nc, ns := b.Sweep.NumCalculations(), b.Outer.NumStates()
	lw, err := NewVector(nc, ns, 1)
	if err != nil {
		return nil, nil, err
	}
	mtx, err := NewMatrix(nc, ns)
	if err != nil {
		return nil, nil, err
	}
	if err := b.run(lw, mtx, nil, nil); err != nil {
		return nil, nil, err
	}
	return mtx, lw, nil
}

// Apply computes the operator's action on `in` without materializing the
// matrix. ModeApply only. The result has the shape of `in`.
func (b *PhBuilder) Apply(in *Vector) (*Vector, error) {
	if b.mode != ModeApply {
		return nil, fmt.Errorf("%w: builder is in %s mode", ErrConfiguration, b.mode)
	}
	if in == nil || in.NumCalcs() != b.Sweep.NumCalculations() ||
		in.NumStates() != b.Outer.NumStates() {
		return nil, fmt.Errorf("%w: input vector shape", ErrConfiguration)
	}
	out, err := NewVector(in.NumCalcs(), in.NumStates(), in.Dims())
	if err != nil {
		return nil, err
	}
	if err := b.run(nil, nil, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// partner holds the resolved q3 states and couplings of one q2 point.
type partner struct {
	plus, minus []float64 // |V±|², flat [nb1][nb2][nb3±]
	iq3p, iq3m  int       // mesh indices, -1 off mesh
	e3p, e3m    []float64
	v3p, v3m    []crystal.Vec3
}

func (b *PhBuilder) run(lw *Vector, mtx *Matrix, in, out *Vector) error {
	inner, outer := b.Inner, b.Outer
	grid := inner.Grid()
	nq2 := inner.NumPoints()
	sameMesh := outer.Same(inner)
	norm := deltaNorm(b.Delta, nq2)
	nCalc := b.Sweep.NumCalculations()

	start, stop := b.Pool.DivideWork(outer.NumPoints())
	if b.Pool.IsHead() {
		b.Logger.Info("building phonon scattering operator",
			"mode", b.mode.String(), "outerPoints", outer.NumPoints(),
			"innerPoints", nq2, "calculations", nCalc)
	}

	parts := make([]partner, nq2)
	for iq1 := start; iq1 < stop; iq1++ {
		if err := b.Pool.Err(); err != nil {
			return err
		}
		e1s := outer.Energies(iq1)
		nb1 := len(e1s)
		if err := b.Coupling.CacheOuter(outer.Eigenvectors(iq1), nb1); err != nil {
			b.Pool.Abort(err)
			return err
		}
		q1 := outer.Grid().Cartesian(iq1, b.ReciprocalCell)

		// resolve all partners serially; the coupling provider is stateful
		for iq2 := 0; iq2 < nq2; iq2++ {
			if inner.NumBands(iq2) != inner.NumBands(grid.Invert(iq2)) {
				err := fmt.Errorf("%w: point %d has %d bands, its image has %d",
					ErrBandCount, iq2, inner.NumBands(iq2),
					inner.NumBands(grid.Invert(iq2)))
				b.Pool.Abort(err)
				return err
			}
			if err := b.resolvePartner(&parts[iq2], iq1, iq2, q1, sameMesh); err != nil {
				b.Pool.Abort(err)
				return err
			}
		}

		if err := b.rateLoop(iq1, parts, norm, lw, mtx, in, out); err != nil {
			b.Pool.Abort(err)
			return err
		}
	}

	if lw != nil {
		if err := lw.allReduce(b.Pool); err != nil {
			return err
		}
	}
	if mtx != nil {
		if err := mtx.allReduce(b.Pool); err != nil {
			return err
		}
	}
	if out != nil {
		if err := out.allReduce(b.Pool); err != nil {
			return err
		}
	}
	return b.Pool.Err()
}

func (b *PhBuilder) resolvePartner(p *partner, iq1, iq2 int, q1 crystal.Vec3, sameMesh bool) error {
	inner := b.Inner
	grid := inner.Grid()
	q2 := grid.Cartesian(iq2, b.ReciprocalCell)
	q3p := q1.Add(q2)
	q3m := q1.Sub(q2)

	var ev3p, ev3m []complex128
	if sameMesh {
		p.iq3p = grid.Add(iq1, iq2)
		p.iq3m = grid.Sub(iq1, iq2)
		p.e3p = inner.Energies(p.iq3p)
		p.e3m = inner.Energies(p.iq3m)
		p.v3p = inner.Velocities(p.iq3p)
		p.v3m = inner.Velocities(p.iq3m)
		ev3p = inner.Eigenvectors(p.iq3p)
		ev3m = inner.Eigenvectors(p.iq3m)
	} else {
		p.iq3p, p.iq3m = -1, -1
		p.e3p, ev3p = b.Harmonic.DiagonalizeAtCoords(q3p)
		p.e3m, ev3m = b.Harmonic.DiagonalizeAtCoords(q3m)
		p.v3p, p.v3m = nil, nil
	}

	var err error
	p.plus, p.minus, err = b.Coupling.Squared(q2, q3p, q3m,
		inner.Eigenvectors(iq2), inner.NumBands(iq2),
		ev3p, len(p.e3p), ev3m, len(p.e3m))
	return err
}

type matEntry struct {
	ic, row, col int
	val          float64
}

// rateLoop distributes the q2 points of one outer point over the worker
// goroutines. Each worker evaluates its rates into private accumulators
// and merges them into the shared outputs under the mutex.
func (b *PhBuilder) rateLoop(iq1 int, parts []partner, norm float64,
	lw *Vector, mtx *Matrix, in, out *Vector) error {

	inner, outer := b.Inner, b.Outer
	nq2 := len(parts)
	nCalc := b.Sweep.NumCalculations()
	e1s := outer.Energies(iq1)
	nb1 := len(e1s)
	particle := inner.Particle()

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	workers := b.Workers
	if workers > nq2 {
		workers = nq2
	}
	if workers < 1 {
		workers = 1
	}
	dims := 1
	if in != nil {
		dims = in.Dims()
	}

	for w := 0; w < workers; w++ {
		lo := nq2 * w / workers
		hi := nq2 * (w + 1) / workers
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			gamma := make([]float64, nCalc*nb1)
			applyAcc := make([]float64, nCalc*nb1*dims)
			var entries []matEntry

			for iq2 := lo; iq2 < hi; iq2++ {
				for i := range gamma {
					gamma[i] = 0
				}
				for i := range applyAcc {
					applyAcc[i] = 0
				}
				entries = entries[:0]

				if err := b.rateOne(iq1, iq2, &parts[iq2], norm, particle,
					gamma, applyAcc, &entries, in, dims); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}

				mu.Lock()
				for ic := 0; ic < nCalc; ic++ {
					for ib1 := 0; ib1 < nb1; ib1++ {
						g := gamma[ic*nb1+ib1]
						if g == 0 {
							continue
						}
						is1 := outer.StateIndex(iq1, ib1)
						if lw != nil {
							lw.AddAt(ic, is1, 0, g)
						}
						if mtx != nil {
							mtx.AddAt(ic, is1, is1, g)
						}
					}
				}
				for _, e := range entries {
					mtx.AddAt(e.ic, e.row, e.col, e.val)
				}
				if out != nil {
					for ic := 0; ic < nCalc; ic++ {
						for ib1 := 0; ib1 < nb1; ib1++ {
							is1 := outer.StateIndex(iq1, ib1)
							for d := 0; d < dims; d++ {
								out.AddAt(ic, is1, d, applyAcc[(ic*nb1+ib1)*dims+d])
							}
						}
					}
				}
				mu.Unlock()
			}
		}(lo, hi)
	}
	wg.Wait()
	return firstErr
}

// rateOne evaluates the canonical absorption and emission rates of one
// (q1, q2) pair:
//
//	P+ = (pi/4) |V+|² (n2 - n3+) delta(e1 + e2 - e3+)
//	P- = (pi/8) |V-|² (n2 + n3- + 1) delta(e1 - e2 - e3-)
//
// and accumulates the linewidth Gamma1 = sum(P+ + P-), the matrix
// coefficients and the matrix-free action.
func (b *PhBuilder) rateOne(iq1, iq2 int, p *partner, norm float64,
	particle stats.Particle, gamma, applyAcc []float64, entries *[]matEntry,
	in *Vector, dims int) error {

	inner, outer := b.Inner, b.Outer
	e1s := outer.Energies(iq1)
	e2s := inner.Energies(iq2)
	v2s := inner.Velocities(iq2)
	nb1, nb2 := len(e1s), len(e2s)
	nb3p, nb3m := len(p.e3p), len(p.e3m)
	nCalc := b.Sweep.NumCalculations()

	for ic := 0; ic < nCalc; ic++ {
		calc := b.Sweep.Calculation(ic)
		t, mu := calc.Temperature, calc.ChemicalPotential

		for ib2 := 0; ib2 < nb2; ib2++ {
			e2 := e2s[ib2]
			if e2 < energyCutoff {
				continue
			}
			n2, err := particle.Occupation(e2, t, mu)
			if err != nil {
				return err
			}
			var is2 int
			if in != nil || entries != nil {
				is2 = inner.StateIndex(iq2, ib2)
			}

			for ib1 := 0; ib1 < nb1; ib1++ {
				e1 := e1s[ib1]
				if e1 < energyCutoff {
					continue
				}
				gi := ic*len(e1s) + ib1
				base := ib1*nb2 + ib2

				// absorption: q1 + q2 -> q3+
				for ib3 := 0; ib3 < nb3p; ib3++ {
					e3 := p.e3p[ib3]
					if e3 < energyCutoff {
						continue
					}
					w := b.deltaWeight(e1+e2-e3, v2s, ib2, p.v3p, p.iq3p, ib3)
					if w == 0 {
						continue
					}
					n3, err := particle.Occupation(e3, t, mu)
					if err != nil {
						return err
					}
					rate := math.Pi / 4 * p.plus[base*nb3p+ib3] * (n2 - n3) * w * norm
					gamma[gi] += rate
					b.accumulate(rate, 1, ic, iq1, ib1, is2, p.iq3p, ib3,
						applyAcc, entries, in, dims)
				}

				// emission: q1 -> q2 + q3-
				for ib3 := 0; ib3 < nb3m; ib3++ {
					e3 := p.e3m[ib3]
					if e3 < energyCutoff {
						continue
					}
					w := b.deltaWeight(e1-e2-e3, v2s, ib2, p.v3m, p.iq3m, ib3)
					if w == 0 {
						continue
					}
					n3, err := particle.Occupation(e3, t, mu)
					if err != nil {
						return err
					}
					rate := math.Pi / 8 * p.minus[base*nb3m+ib3] * (n2 + n3 + 1) * w * norm
					gamma[gi] += rate
					b.accumulate(rate, -1, ic, iq1, ib1, is2, p.iq3m, ib3,
						applyAcc, entries, in, dims)
				}
			}
		}
	}
	return nil
}

// accumulate folds one process rate into the off-diagonal outputs. sign
// distinguishes absorption (+1, coefficient +P on F2) from emission (-1,
// coefficient -P on F2); the q3 coefficient is -P for both.
func (b *PhBuilder) accumulate(rate, sign float64, ic, iq1, ib1, is2, iq3, ib3 int,
	applyAcc []float64, entries *[]matEntry, in *Vector, dims int) {

	if entries == nil && in == nil {
		return
	}
	is1 := b.Outer.StateIndex(iq1, ib1)
	is3 := -1
	if iq3 >= 0 {
		is3 = b.Inner.StateIndex(iq3, ib3)
	}
	if entries != nil && b.mode == ModeMatrix {
		*entries = append(*entries, matEntry{ic, is1, is2, sign * rate})
		if is3 >= 0 {
			*entries = append(*entries, matEntry{ic, is1, is3, -rate})
		}
	}
	if in != nil {
		base := (ic*b.Outer.NumBands(iq1) + ib1) * dims
		for d := 0; d < dims; d++ {
			v := rate * in.At(ic, is1, d) // Gamma contribution
			v += sign * rate * in.At(ic, is2, d)
			if is3 >= 0 {
				v -= rate * in.At(ic, is3, d)
			}
			applyAcc[base+d] += v
		}
	}
}

// deltaWeight evaluates the smearing with the richest hint available:
// velocity difference for the adaptive width, the q3 state for the
// tetrahedron interpolation.
func (b *PhBuilder) deltaWeight(deltaE float64, v2s []crystal.Vec3, ib2 int,
	v3s []crystal.Vec3, iq3, ib3 int) float64 {

	var h smearing.Hint
	if v2s != nil {
		dv := v2s[ib2]
		if v3s != nil {
			dv = dv.Sub(v3s[ib3])
		}
		h.VelocityDifference = dv
		h.HasVelocity = true
	}
	if iq3 >= 0 {
		h.Point = iq3
		h.Band = ib3
		h.HasState = true
	}
	return b.Delta.Weight(deltaE, h)
}

// deltaNorm returns the q2 sum normalization. The tetrahedron weights
// carry the mesh volume fraction already; analytic smearing needs the
// explicit 1/N.
func deltaNorm(d smearing.DeltaFunction, numPoints int) float64 {
	if _, ok := d.(*smearing.Tetrahedron); ok {
		return 1
	}
	return 1.0 / float64(numPoints)
}
