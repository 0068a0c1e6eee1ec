package fileset

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// WriteSummary prints a human readable table of the file set.
func (m *Metadata) WriteSummary(w io.Writer) {
	bold := color.New(color.Bold)
	fmt.Fprintf(w, "  Number of files = %d\n", len(m.Files))
	fmt.Fprintf(w, "     Points/block = %d\n", m.PtsPerBlock)
	fmt.Fprintf(w, "  Num of channels = %d\n", m.NumChan)
	fmt.Fprintf(w, " Total points (N) = %d\n", m.N)
	fmt.Fprintf(w, " Sample time (dt) = %-14.14g\n", m.Dt)
	fmt.Fprintf(w, "   Total time (s) = %-14.14g\n\n", m.T)
	bold.Fprintln(w, "File  Start Block    Last Block     Points      Elapsed (s)      Time (s)            MJD           Padding")
	fmt.Fprintln(w, "----  ------------  ------------  ----------  --------------  --------------  ------------------  ----------")
	for ii, f := range m.Files {
		fmt.Fprintf(w, "%2d    %12.11g  %12.11g  %10d  %14.13g  %14.13g  %17.12f  %10d\n",
			ii+1, f.StartBlock, f.EndBlock, f.NumPoints,
			f.Elapsed, f.Duration, float64(f.MJDi)+f.MJDf, f.PadPoints)
	}
	fmt.Fprintln(w)
}
