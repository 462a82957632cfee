// Command memprofile renders the frame manager's occupancy over time from
// a captured console log made of lines of the form
//
//	pmm: free=NNN used=MMM
//
// The kernel in this repository does not print such lines itself; feeding a
// capture that contains them through this tool produces a chart of free/used frame counts per sample, which makes
// allocation-order regressions in the red-black trees easy to spot.
//
// Usage:
//
//	memprofile -in console.log -out occupancy.png
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

type sample struct {
	free, used int
}

func main() {
	var (
		inPath  = flag.String("in", "", "console capture to read (default stdin)")
		outPath = flag.String("out", "occupancy.png", "chart file to write")
	)
	flag.Parse()

	in := os.Stdin
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			fatal(err)
		}
		defer f.Close()
		in = f
	}

	samples, err := parseSamples(in)
	if err != nil {
		fatal(err)
	}
	if len(samples) == 0 {
		fatal(fmt.Errorf("no pmm samples found in input"))
	}

	if err := render(samples, *outPath); err != nil {
		fatal(err)
	}
	fmt.Printf("memprofile: %d samples -> %s\n", len(samples), *outPath)
}

func parseSamples(f *os.File) ([]sample, error) {
	var out []sample

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "pmm:") {
			continue
		}

		s, ok := parseLine(line)
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out, sc.Err()
}

func parseLine(line string) (sample, bool) {
	var s sample
	seen := 0

	for _, field := range strings.Fields(line) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return sample{}, false
		}
		switch key {
		case "free":
			s.free = n
			seen++
		case "used":
			s.used = n
			seen++
		}
	}
	return s, seen == 2
}

func render(samples []sample, outPath string) error {
	p := plot.New()
	p.Title.Text = "frame manager occupancy"
	p.X.Label.Text = "sample"
	p.Y.Label.Text = "frames"

	freePts := make(plotter.XYs, len(samples))
	usedPts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		freePts[i] = plotter.XY{X: float64(i), Y: float64(s.free)}
		usedPts[i] = plotter.XY{X: float64(i), Y: float64(s.used)}
	}

	freeLine, err := plotter.NewLine(freePts)
	if err != nil {
		return err
	}
	usedLine, err := plotter.NewLine(usedPts)
	if err != nil {
		return err
	}
	usedLine.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(freeLine, usedLine)
	p.Legend.Add("free", freeLine)
	p.Legend.Add("used", usedLine)

	return p.Save(8*vg.Inch, 4*vg.Inch, outPath)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "memprofile:", err)
	os.Exit(1)
}
