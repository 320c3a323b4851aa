// Package device abstracts the bulk tensor contractions of the coupling
// pipeline behind a small capability interface, with a pure-Go fallback
// and an OCCA-backed implementation for accelerator offload. The design
// deliberately does not mandate a device API: callers hold a Contractor
// and never see what runs underneath.
package device

// Contractor performs the three bulk operations the Wannier interpolation
// pipeline is built from. Complex tensors are flat row-major slices. Every
// operation carries a leading batch axis so a whole sub-batch of inner
// states runs as one stacked launch; callers with a single state pass
// batch = 1.
type Contractor interface {
	// PhaseSum contracts the lattice-vector axis of a shared tensor with
	// one phase vector per batch element:
	// dst[b][m] = sum_r phases[b][r] * src[r*n+m] for b < batch, m < n.
	PhaseSum(dst, src, phases []complex128, batch, n int) error

	// RotateMid applies one matrix per batch element along the middle
	// axis of that element's stacked tensor:
	// dst[b][o][a][i] = sum_c u[b][a*nIn+c] * src[b][o][c][i] for
	// b < batch, o < outer, a < nOut, c < nIn, i < inner.
	RotateMid(dst, src, u []complex128, batch, outer, nOut, nIn, inner int) error

	// SquaredNorm writes |src[i]|^2 into dst.
	SquaredNorm(dst []float64, src []complex128) error

	// Mode names the backend ("CPU", "Serial", "OpenMP", "CUDA", ...).
	Mode() string

	// Free releases backend resources. The CPU backend is a no-op.
	Free()
}

// NewContractor picks a backend. Empty string or "CPU" selects the pure-Go
// implementation; any other mode is handed to OCCA, falling back to CPU
// when no such device can be created.
func NewContractor(mode string) Contractor {
	if mode == "" || mode == "CPU" || mode == "cpu" {
		return CPU{}
	}
	if c, err := NewOCCAContractor(mode); err == nil {
		return c
	}
	return CPU{}
}
