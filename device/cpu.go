package device

import "fmt"

// CPU is the reference Contractor, plain nested loops on the host.
type CPU struct{}

// PhaseSum implements Contractor.
func (CPU) PhaseSum(dst, src, phases []complex128, batch, n int) error {
	if batch < 1 {
		return fmt.Errorf("device: phase-sum batch %d", batch)
	}
	if len(dst) != batch*n {
		return fmt.Errorf("device: phase-sum dst length %d != %d x %d", len(dst), batch, n)
	}
	if len(phases)%batch != 0 {
		return fmt.Errorf("device: phase-sum phases length %d not divisible by batch %d",
			len(phases), batch)
	}
	nr := len(phases) / batch
	if len(src) != nr*n {
		return fmt.Errorf("device: phase-sum src length %d != %d x %d", len(src), nr, n)
	}
	for b := 0; b < batch; b++ {
		ph := phases[b*nr : (b+1)*nr]
		out := dst[b*n : (b+1)*n]
		for m := 0; m < n; m++ {
			acc := complex(0, 0)
			for r, p := range ph {
				acc += p * src[r*n+m]
			}
			out[m] = acc
		}
	}
	return nil
}

// RotateMid implements Contractor.
func (CPU) RotateMid(dst, src, u []complex128, batch, outer, nOut, nIn, inner int) error {
	if batch < 1 {
		return fmt.Errorf("device: rotate batch %d", batch)
	}
	if len(dst) != batch*outer*nOut*inner {
		return fmt.Errorf("device: rotate dst length %d != %d", len(dst), batch*outer*nOut*inner)
	}
	if len(src) != batch*outer*nIn*inner {
		return fmt.Errorf("device: rotate src length %d != %d", len(src), batch*outer*nIn*inner)
	}
	if len(u) != batch*nOut*nIn {
		return fmt.Errorf("device: rotate matrix length %d != %d x %d x %d",
			len(u), batch, nOut, nIn)
	}
	for b := 0; b < batch; b++ {
		ub := u[b*nOut*nIn : (b+1)*nOut*nIn]
		for o := 0; o < outer; o++ {
			srcBase := (b*outer + o) * nIn * inner
			dstBase := (b*outer + o) * nOut * inner
			for a := 0; a < nOut; a++ {
				for i := 0; i < inner; i++ {
					acc := complex(0, 0)
					for c := 0; c < nIn; c++ {
						acc += ub[a*nIn+c] * src[srcBase+c*inner+i]
					}
					dst[dstBase+a*inner+i] = acc
				}
			}
		}
	}
	return nil
}

// SquaredNorm implements Contractor.
func (CPU) SquaredNorm(dst []float64, src []complex128) error {
	if len(dst) != len(src) {
		return fmt.Errorf("device: squared-norm length mismatch %d != %d", len(dst), len(src))
	}
	for i, v := range src {
		re, im := real(v), imag(v)
		dst[i] = re*re + im*im
	}
	return nil
}

// Mode implements Contractor.
func (CPU) Mode() string { return "CPU" }

// Free implements Contractor.
func (CPU) Free() {}
