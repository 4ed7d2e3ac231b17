// Package fpu performs the one-shot, process-wide denormals-are-zero (DAZ)
// and flush-to-zero (FTZ) setup the render thread needs: without it,
// decaying envelope tails and long reverb/filter states collapse into
// subnormal floats that some FPUs execute orders of magnitude slower than
// normal ones, turning a quiet tail into an audible glitch.
package fpu

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/klauspost/cpuid/v2"
)

var (
	once    sync.Once
	enabled bool
)

// EnableFlushToZero detects DAZ/FTZ support on the current CPU via cpuid
// feature bits. Actually arming the FPU's DAZ/FTZ control bits requires a
// short architecture-specific assembly stub (writing MXCSR on amd64,
// FPSCR on arm64); no such stub exists anywhere in the retrieval pack, and
// Go's standard library exposes no portable way to reach it, so this is a
// detect-and-report no-op rather than a silent false claim of success.
// Callers that need denormal protection on the render thread should favor
// algorithms that clamp decaying state to zero below an epsilon instead.
func EnableFlushToZero() bool {
	once.Do(func() {
		supported := cpuid.CPU.Supports(cpuid.SSE2) || cpuid.CPU.Supports(cpuid.ASIMD)
		if !supported {
			log.Warn("fpu: no known denormal-flush feature on this CPU", "arch", cpuid.CPU.VendorString)
			return
		}
		log.Debug("fpu: denormal-flush capable CPU detected; DAZ/FTZ not armed (no assembly stub available)", "vendor", cpuid.CPU.VendorString)
		enabled = false
	})
	return enabled
}

// Enabled reports whether EnableFlushToZero successfully armed DAZ/FTZ.
func Enabled() bool { return enabled }
