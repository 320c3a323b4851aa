//go:build !cgo

package device

import "fmt"

// OCCAContractor requires cgo (gocca binds the OCCA C library). In a
// non-cgo build the constructor always fails, so NewContractor falls
// back to the CPU backend.
type OCCAContractor struct{}

// NewOCCAContractor reports that OCCA support is not compiled in.
func NewOCCAContractor(mode string) (*OCCAContractor, error) {
	return nil, fmt.Errorf("device: OCCA mode %q unavailable: built without cgo", mode)
}

// PhaseSum implements Contractor.
func (c *OCCAContractor) PhaseSum(dst, src, phases []complex128, batch, n int) error {
	return fmt.Errorf("device: OCCA unavailable: built without cgo")
}

// RotateMid implements Contractor.
func (c *OCCAContractor) RotateMid(dst, src, u []complex128, batch, outer, nOut, nIn, inner int) error {
	return fmt.Errorf("device: OCCA unavailable: built without cgo")
}

// SquaredNorm implements Contractor.
func (c *OCCAContractor) SquaredNorm(dst []float64, src []complex128) error {
	return fmt.Errorf("device: OCCA unavailable: built without cgo")
}

// Mode implements Contractor.
func (c *OCCAContractor) Mode() string { return "OCCA-unavailable" }

// Free implements Contractor.
func (c *OCCAContractor) Free() {}
