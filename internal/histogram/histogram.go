// Package histogram implements the diagnostic importance-weight
// histogram: a log-uniform binning of the observed off-policy
// importance weights across the buffer, reported as two rows of text.
// It never feeds back into training.
package histogram

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cartridge/replayproc/internal/replaymemory"
)

const nBins = 81

var bounds = computeBounds()

func computeBounds() [nBins + 1]float64 {
	var b [nBins + 1]float64
	beg, end := math.Log(1e-3), math.Log(50.0)
	for i := 1; i < nBins; i++ {
		b[i] = math.Exp(beg + (end-beg)*(float64(i)-1.0)/(nBins-2.0))
	}
	b[nBins] = math.MaxFloat64 - 1e2
	return b
}

// Count folds over every transition in rm, bucketing each importance
// weight into one of nBins log-uniform bins.
func Count(ctx context.Context, rm replaymemory.ReplayMemory) ([nBins]int, error) {
	n := rm.ReadNSeq()
	procs := runtime.GOMAXPROCS(0)
	if procs > n {
		procs = n
	}
	if procs < 1 {
		procs = 1
	}

	partials := make([][nBins]int, procs)
	g, _ := errgroup.WithContext(ctx)
	for s := 0; s < procs; s++ {
		s := s
		g.Go(func() error {
			var counts [nBins]int
			base, rem := n/procs, n%procs
			lo := s*base + min(s, rem)
			hi := lo + base
			if s < rem {
				hi++
			}
			for i := lo; i < hi; i++ {
				ep, err := rm.Get(i)
				if err != nil {
					return err
				}
				for _, rho := range ep.OffPolImpW {
					for b := 0; b < nBins; b++ {
						if rho >= bounds[b] && rho < bounds[b+1] {
							counts[b]++
							break
						}
					}
				}
			}
			partials[s] = counts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return [nBins]int{}, err
	}

	var total [nBins]int
	for _, p := range partials {
		for b := 0; b < nBins; b++ {
			total[b] += p[b]
		}
	}
	return total, nil
}

func harmonicMean(a, b float64) float64 {
	return 2 * a * (b / (a + b))
}

// Report renders the two-row textual block: harmonic mean of each
// bin's bounds, and fraction of the dataset per bin.
func Report(counts [nBins]int, dataSize int) string {
	var sb strings.Builder
	sb.WriteString("_____________________________________________________________________\n")
	sb.WriteString("OFF-POLICY IMP WEIGHTS HISTOGRAMS\n")
	sb.WriteString("weight pi/mu (harmonic mean of histogram's bounds):\n")
	for b := 0; b < nBins; b++ {
		fmt.Fprintf(&sb, "%6.1f", harmonicMean(bounds[b], bounds[b+1]))
	}
	sb.WriteString("\nfraction of dataset:\n")
	for b := 0; b < nBins; b++ {
		frac := 0.0
		if dataSize > 0 {
			frac = float64(counts[b]) / float64(dataSize)
		}
		fmt.Fprintf(&sb, "%6.1f", frac)
	}
	sb.WriteString("\n_____________________________________________________________________")
	return sb.String()
}
