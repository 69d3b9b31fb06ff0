// Command gendataset writes a point-dataset file of n points drawn
// uniformly at random from [0,1]², with sequential ids starting at 1, in
// either the text or the binary dataset format depending on the output
// path's extension.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/thcristo/planesweep-knn/pkg/point"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("gendataset", flag.ContinueOnError)
	seed := fs.Int64("seed", 1, "random seed")
	compress := fs.Bool("gzip", false, "gzip-wrap the output when writing .bin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 2 {
		return fmt.Errorf("usage: gendataset <numPoints> <outputPath> [-seed N] [-gzip]")
	}

	var numPoints int
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &numPoints); err != nil || numPoints <= 0 {
		return fmt.Errorf("numPoints must be a positive integer, got %q", fs.Arg(0))
	}
	outputPath := fs.Arg(1)

	log.Printf("gendataset: generating %d points (seed=%d)", numPoints, *seed)
	r := rand.New(rand.NewSource(*seed))
	set := make(point.Set, numPoints)
	for i := 0; i < numPoints; i++ {
		set[i] = point.Point{Id: uint64(i + 1), X: r.Float64(), Y: r.Float64()}
	}

	if strings.EqualFold(filepath.Ext(outputPath), ".bin") {
		if err := point.SaveBinary(outputPath, set, point.BinaryOptions{Compress: *compress}); err != nil {
			return fmt.Errorf("save binary dataset: %w", err)
		}
	} else {
		if err := point.SaveText(outputPath, set); err != nil {
			return fmt.Errorf("save text dataset: %w", err)
		}
	}

	log.Printf("gendataset: wrote %d points to %s", numPoints, outputPath)
	return nil
}
