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

// ElOptions configures an ElBuilder.
type ElOptions struct {
	Pool    *pool.Pool
	Workers int

	Sweep *stats.Sweep

	// Electron carries the outer k states; Phonon the q mesh. Both must
	// live on the same grid so k' = k + q stays on mesh.
	Electron *bands.BandStructure
	Phonon   *bands.BandStructure

	Coupling coupling.ElPhCoupling
	Delta    smearing.DeltaFunction

	ReciprocalCell crystal.Mat3
	Logger         *slog.Logger
}

// ElBuilder assembles electron-phonon scattering: linewidths or the
// matrix-free action. The full matrix is not offered; electron transport
// in this engine goes through RTA or the iterative solver.
type ElBuilder struct {
	mode Mode
	ElOptions
}

// NewElBuilder validates the options. ModeMatrix is rejected.
func NewElBuilder(mode Mode, opts ElOptions) (*ElBuilder, error) {
	if mode != ModeDiagonal && mode != ModeApply {
		return nil, fmt.Errorf("%w: electron builder supports diagonal and apply, got %s",
			ErrConfiguration, mode)
	}
	if opts.Sweep == nil || opts.Electron == nil || opts.Phonon == nil ||
		opts.Coupling == nil || opts.Delta == nil {
		return nil, fmt.Errorf("%w: missing required inputs", ErrConfiguration)
	}
	if opts.Electron.Particle().IsPhonon() || !opts.Phonon.Particle().IsPhonon() {
		return nil, fmt.Errorf("%w: need electron outer and phonon inner bands",
			ErrConfiguration)
	}
	if opts.Electron.Grid() != opts.Phonon.Grid() {
		return nil, fmt.Errorf("%w: electron and phonon meshes differ", ErrConfiguration)
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
	return &ElBuilder{mode: mode, ElOptions: opts}, nil
}

// Diagonal builds the electron linewidths.
func (b *ElBuilder) Diagonal() (*Vector, error) {
	if b.mode != ModeDiagonal {
		return nil, fmt.Errorf("%w: builder is in %s mode", ErrConfiguration, b.mode)
	}
	lw, err := NewVector(b.Sweep.NumCalculations(), b.Electron.NumStates(), 1)
	if err != nil {
		return nil, err
	}
	if err := b.run(lw, nil, nil); err != nil {
		return nil, err
	}
	return lw, nil
}

// Apply computes the action of the linearized electron-phonon operator
// on `in`.
func (b *ElBuilder) Apply(in *Vector) (*Vector, error) {
	if b.mode != ModeApply {
		return nil, fmt.Errorf("%w: builder is in %s mode", ErrConfiguration, b.mode)
	}
	if in == nil || in.NumCalcs() != b.Sweep.NumCalculations() ||
		in.NumStates() != b.Electron.NumStates() {
		return nil, fmt.Errorf("%w: input vector shape", ErrConfiguration)
	}
	out, err := NewVector(in.NumCalcs(), in.NumStates(), in.Dims())
	if err != nil {
		return nil, err
	}
	if err := b.run(nil, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *ElBuilder) run(lw *Vector, in, out *Vector) error {
	el, ph := b.Electron, b.Phonon
	grid := ph.Grid()
	nq := ph.NumPoints()
	norm := deltaNorm(b.Delta, nq)
	nCalc := b.Sweep.NumCalculations()

	start, stop := b.Pool.DivideWork(el.NumPoints())
	if b.Pool.IsHead() {
		b.Logger.Info("building electron-phonon scattering",
			"mode", b.mode.String(), "kPoints", el.NumPoints(), "qPoints", nq)
	}

	// batch inputs reused across k1
	qs := make([]crystal.Vec3, nq)
	u2 := make([][]complex128, nq)
	nb2 := make([]int, nq)
	phEvs := make([][]complex128, nq)
	nPh := make([]int, nq)
	ik2s := make([]int, nq)

	for ik1 := start; ik1 < stop; ik1++ {
		if err := b.Pool.Err(); err != nil {
			return err
		}
		nb1 := el.NumBands(ik1)
		k1 := grid.Cartesian(ik1, b.ReciprocalCell)
		if err := b.Coupling.CacheOuter(k1, el.Eigenvectors(ik1), nb1); err != nil {
			b.Pool.Abort(err)
			return err
		}
		for iq := 0; iq < nq; iq++ {
			ik2 := grid.Add(ik1, iq)
			ik2s[iq] = ik2
			qs[iq] = grid.Cartesian(iq, b.ReciprocalCell)
			u2[iq] = el.Eigenvectors(ik2)
			nb2[iq] = el.NumBands(ik2)
			phEvs[iq] = ph.Eigenvectors(iq)
			nPh[iq] = ph.NumBands(iq)
		}
		g2, err := b.Coupling.Squared(qs, u2, nb2, phEvs, nPh)
		if err != nil {
			b.Pool.Abort(err)
			return err
		}
		if err := b.rateLoop(ik1, nb1, ik2s, g2, nPh, norm, nCalc, lw, in, out); err != nil {
			b.Pool.Abort(err)
			return err
		}
	}

	if lw != nil {
		if err := lw.allReduce(b.Pool); err != nil {
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

// rateLoop evaluates, thread-parallel over q,
//
//	rateAbs = pi |g|² (n_ph + f2) delta(e1 - e2 + w)
//	rateEm  = pi |g|² (n_ph + 1 - f2) delta(e1 - e2 - w)
//
// accumulating Gamma1 and, in apply mode, (rate)(F1 - F2).
func (b *ElBuilder) rateLoop(ik1, nb1 int, ik2s []int, g2 [][]float64, nPh []int,
	norm float64, nCalc int, lw, in, out *Vector) error {

	el, ph := b.Electron, b.Phonon
	e1s := el.Energies(ik1)
	v1s := el.Velocities(ik1)
	fermi := el.Particle()
	bose := ph.Particle()
	nq := len(ik2s)

	dims := 1
	if in != nil {
		dims = in.Dims()
	}

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	workers := b.Workers
	if workers > nq {
		workers = nq
	}
	if workers < 1 {
		workers = 1
	}

	for w := 0; w < workers; w++ {
		lo := nq * w / workers
		hi := nq * (w + 1) / workers
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			gamma := make([]float64, nCalc*nb1)
			applyAcc := make([]float64, nCalc*nb1*dims)

			for iq := lo; iq < hi; iq++ {
				for i := range gamma {
					gamma[i] = 0
				}
				for i := range applyAcc {
					applyAcc[i] = 0
				}
				ik2 := ik2s[iq]
				e2s := el.Energies(ik2)
				v2s := el.Velocities(ik2)
				ws := ph.Energies(iq)

				for ic := 0; ic < nCalc; ic++ {
					calc := b.Sweep.Calculation(ic)
					t, chemPot := calc.Temperature, calc.ChemicalPotential
					for nu := 0; nu < nPh[iq]; nu++ {
						omega := ws[nu]
						if omega < energyCutoff {
							continue
						}
						nPhonon, err := bose.Occupation(omega, t, 0)
						if err != nil {
							recordErr(&mu, &firstErr, err)
							return
						}
						for ib2 := 0; ib2 < len(e2s); ib2++ {
							e2 := e2s[ib2]
							f2, err := fermi.Occupation(e2, t, chemPot)
							if err != nil {
								recordErr(&mu, &firstErr, err)
								return
							}
							is2 := el.StateIndex(ik2, ib2)
							for ib1 := 0; ib1 < nb1; ib1++ {
								e1 := e1s[ib1]
								g := g2[iq][(nu*len(e2s)+ib2)*nb1+ib1]
								if g == 0 {
									continue
								}
								var h smearing.Hint
								if v1s != nil && v2s != nil {
									h.VelocityDifference = v1s[ib1].Sub(v2s[ib2])
									h.HasVelocity = true
								}
								h.Point = ik2
								h.Band = ib2
								h.HasState = true

								dAbs := b.Delta.Weight(e1-e2+omega, h)
								dEm := b.Delta.Weight(e1-e2-omega, h)
								rate := math.Pi * g * norm *
									((nPhonon+f2)*dAbs + (nPhonon+1-f2)*dEm)
								if rate == 0 {
									continue
								}
								gi := ic*nb1 + ib1
								gamma[gi] += rate
								if in != nil {
									is1 := el.StateIndex(ik1, ib1)
									for d := 0; d < dims; d++ {
										applyAcc[gi*dims+d] += rate *
											(in.At(ic, is1, d) - in.At(ic, is2, d))
									}
								}
							}
						}
					}
				}

				mu.Lock()
				for ic := 0; ic < nCalc; ic++ {
					for ib1 := 0; ib1 < nb1; ib1++ {
						g := gamma[ic*nb1+ib1]
						is1 := el.StateIndex(ik1, ib1)
						if lw != nil && g != 0 {
							lw.AddAt(ic, is1, 0, g)
						}
						if out != nil {
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

func recordErr(mu *sync.Mutex, dst *error, err error) {
	mu.Lock()
	if *dst == nil {
		*dst = err
	}
	mu.Unlock()
}
