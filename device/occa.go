//go:build cgo

package device

import (
	"fmt"
	"unsafe"

	"github.com/notargets/gocca"
)

// complexSize is the byte width of one complex128, stored on the device as
// two consecutive doubles (re, im).
const complexSize = 16

// occaBlock is the @inner width of the generated kernels.
const occaBlock = 32

// OCCAContractor runs the contractions through an OCCA device. Buffers are
// allocated per call; the batch axis keeps each launch large enough that
// transfer cost is amortized by the contraction itself.
type OCCAContractor struct {
	device *gocca.OCCADevice

	phaseSum    *gocca.OCCAKernel
	rotateMid   *gocca.OCCAKernel
	squaredNorm *gocca.OCCAKernel
}

// NewOCCAContractor creates a device in the given OCCA mode ("Serial",
// "OpenMP", "CUDA", ...) and compiles the contraction kernels.
func NewOCCAContractor(mode string) (*OCCAContractor, error) {
	dev, err := gocca.NewDevice(fmt.Sprintf(`{"mode": %q}`, mode))
	if err != nil {
		return nil, fmt.Errorf("device: creating OCCA device %q: %w", mode, err)
	}
	c := &OCCAContractor{device: dev}
	for _, k := range []struct {
		name string
		src  string
		dst  **gocca.OCCAKernel
	}{
		{"phaseSum", phaseSumKernel, &c.phaseSum},
		{"rotateMid", rotateMidKernel, &c.rotateMid},
		{"squaredNorm", squaredNormKernel, &c.squaredNorm},
	} {
		kern, err := dev.BuildKernelFromString(k.src, k.name, nil)
		if err != nil {
			c.Free()
			return nil, fmt.Errorf("device: building kernel %s: %w", k.name, err)
		}
		*k.dst = kern
	}
	return c, nil
}

// Complex tensors cross the host/device boundary as interleaved doubles.
// complex128 is laid out as (real, imag) float64 pairs, so the host slice
// can be handed to Malloc directly.

const phaseSumKernel = `
@kernel void phaseSum(const int batch, const int nr, const int n,
                      const int nblocks,
                      const double *src, const double *phases, double *dst) {
  for (int blk = 0; blk < nblocks; ++blk; @outer) {
    for (int t = 0; t < 32; ++t; @inner) {
      const int idx = blk * 32 + t;
      if (idx < batch * n) {
        const int m = idx % n;
        const int b = idx / n;
        double re = 0.0;
        double im = 0.0;
        for (int r = 0; r < nr; ++r) {
          const double sr = src[2 * (r * n + m)];
          const double si = src[2 * (r * n + m) + 1];
          const double pr = phases[2 * (b * nr + r)];
          const double pi = phases[2 * (b * nr + r) + 1];
          re += sr * pr - si * pi;
          im += sr * pi + si * pr;
        }
        dst[2 * idx] = re;
        dst[2 * idx + 1] = im;
      }
    }
  }
}`

const rotateMidKernel = `
@kernel void rotateMid(const int batch, const int outer, const int nOut,
                       const int nIn, const int inner, const int nblocks,
                       const double *src, const double *u, double *dst) {
  for (int blk = 0; blk < nblocks; ++blk; @outer) {
    for (int t = 0; t < 32; ++t; @inner) {
      const int idx = blk * 32 + t;
      if (idx < batch * outer * nOut * inner) {
        const int i = idx % inner;
        const int a = (idx / inner) % nOut;
        const int o = (idx / (inner * nOut)) % outer;
        const int b = idx / (inner * nOut * outer);
        double re = 0.0;
        double im = 0.0;
        for (int c = 0; c < nIn; ++c) {
          const int us = 2 * ((b * nOut + a) * nIn + c);
          const int ss = 2 * (((b * outer + o) * nIn + c) * inner + i);
          re += u[us] * src[ss] - u[us + 1] * src[ss + 1];
          im += u[us] * src[ss + 1] + u[us + 1] * src[ss];
        }
        dst[2 * idx] = re;
        dst[2 * idx + 1] = im;
      }
    }
  }
}`

const squaredNormKernel = `
@kernel void squaredNorm(const int n, const int nblocks,
                         const double *src, double *dst) {
  for (int blk = 0; blk < nblocks; ++blk; @outer) {
    for (int t = 0; t < 32; ++t; @inner) {
      const int i = blk * 32 + t;
      if (i < n) {
        const double re = src[2 * i];
        const double im = src[2 * i + 1];
        dst[i] = re * re + im * im;
      }
    }
  }
}`

func blocks(n int) int { return (n + occaBlock - 1) / occaBlock }

// PhaseSum implements Contractor.
func (c *OCCAContractor) PhaseSum(dst, src, phases []complex128, batch, n int) error {
	if batch < 1 || len(dst) != batch*n || len(phases)%batch != 0 {
		return fmt.Errorf("device: phase-sum shape mismatch dst=%d phases=%d batch=%d n=%d",
			len(dst), len(phases), batch, n)
	}
	nr := len(phases) / batch
	if len(src) != nr*n {
		return fmt.Errorf("device: phase-sum src length %d != %d x %d", len(src), nr, n)
	}
	if n == 0 || nr == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	srcMem := c.device.Malloc(int64(len(src)*complexSize), unsafe.Pointer(&src[0]), nil)
	defer srcMem.Free()
	phMem := c.device.Malloc(int64(len(phases)*complexSize), unsafe.Pointer(&phases[0]), nil)
	defer phMem.Free()
	dstMem := c.device.Malloc(int64(len(dst)*complexSize), nil, nil)
	defer dstMem.Free()

	err := c.phaseSum.RunWithArgs(batch, nr, n, blocks(len(dst)), srcMem, phMem, dstMem)
	if err != nil {
		return fmt.Errorf("device: phase-sum kernel: %w", err)
	}
	c.device.Finish()
	dstMem.CopyTo(unsafe.Pointer(&dst[0]), int64(len(dst)*complexSize))
	return nil
}

// RotateMid implements Contractor.
func (c *OCCAContractor) RotateMid(dst, src, u []complex128, batch, outer, nOut, nIn, inner int) error {
	if batch < 1 || len(dst) != batch*outer*nOut*inner ||
		len(src) != batch*outer*nIn*inner || len(u) != batch*nOut*nIn {
		return fmt.Errorf("device: rotate shape mismatch dst=%d src=%d u=%d batch=%d",
			len(dst), len(src), len(u), batch)
	}
	if len(dst) == 0 {
		return nil
	}
	if len(src) == 0 || len(u) == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	srcMem := c.device.Malloc(int64(len(src)*complexSize), unsafe.Pointer(&src[0]), nil)
	defer srcMem.Free()
	uMem := c.device.Malloc(int64(len(u)*complexSize), unsafe.Pointer(&u[0]), nil)
	defer uMem.Free()
	dstMem := c.device.Malloc(int64(len(dst)*complexSize), nil, nil)
	defer dstMem.Free()

	err := c.rotateMid.RunWithArgs(batch, outer, nOut, nIn, inner, blocks(len(dst)),
		srcMem, uMem, dstMem)
	if err != nil {
		return fmt.Errorf("device: rotate kernel: %w", err)
	}
	c.device.Finish()
	dstMem.CopyTo(unsafe.Pointer(&dst[0]), int64(len(dst)*complexSize))
	return nil
}

// SquaredNorm implements Contractor.
func (c *OCCAContractor) SquaredNorm(dst []float64, src []complex128) error {
	if len(dst) != len(src) {
		return fmt.Errorf("device: squared-norm length mismatch %d != %d", len(dst), len(src))
	}
	if len(src) == 0 {
		return nil
	}
	srcMem := c.device.Malloc(int64(len(src)*complexSize), unsafe.Pointer(&src[0]), nil)
	defer srcMem.Free()
	dstMem := c.device.Malloc(int64(len(dst)*8), nil, nil)
	defer dstMem.Free()

	if err := c.squaredNorm.RunWithArgs(len(src), blocks(len(src)), srcMem, dstMem); err != nil {
		return fmt.Errorf("device: squared-norm kernel: %w", err)
	}
	c.device.Finish()
	dstMem.CopyTo(unsafe.Pointer(&dst[0]), int64(len(dst)*8))
	return nil
}

// Mode implements Contractor.
func (c *OCCAContractor) Mode() string { return c.device.Mode() }

// Free implements Contractor.
func (c *OCCAContractor) Free() {
	if c.phaseSum != nil {
		c.phaseSum.Free()
	}
	if c.rotateMid != nil {
		c.rotateMid.Free()
	}
	if c.squaredNorm != nil {
		c.squaredNorm.Free()
	}
	if c.device != nil {
		c.device.Free()
	}
}
