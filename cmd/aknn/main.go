// Command aknn is the CLI driver for the planesweep-stripes all-k-nearest-
// neighbors algorithms: it loads an input and a training point dataset,
// runs the selected algorithm variants, and writes a results text file per
// variant plus one statistics CSV covering all of them.
//
// Positional arguments:
//
//	k inputPath trainingPath [threads accuracy stripes saveToFile compareResults algorithmMask memoryBudgetMB]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/thcristo/planesweep-knn/pkg/external"
	"github.com/thcristo/planesweep-knn/pkg/heap"
	"github.com/thcristo/planesweep-knn/pkg/knn"
	"github.com/thcristo/planesweep-knn/pkg/point"
	"github.com/thcristo/planesweep-knn/pkg/report"
)

// numAlgorithms is the count of variants this module implements and
// therefore the width of algorithmMask: bit 0 selects the in-memory
// internal scheduler, bit 1 the windowed external-memory scheduler.
// Shorter masks are padded with '0'; extra digits are accepted and
// ignored.
const numAlgorithms = 2

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cliArgs struct {
	k              int
	inputPath      string
	trainingPath   string
	threads        int
	accuracy       float64
	stripes        int
	saveToFile     bool
	compareResults bool
	algorithmMask  string
	memoryBudgetMB uint64
}

func usage() string {
	return "usage: aknn [-v] [-locale comma] k inputPath trainingPath " +
		"[threads accuracy stripes saveToFile compareResults algorithmMask memoryBudgetMB]"
}

func parseArgs(args []string) (cliArgs, bool, report.Locale, error) {
	fs := flag.NewFlagSet("aknn", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "log window/stripe progress diagnostics")
	localeFlag := fs.String("locale", "dot", "statistics CSV decimal separator: dot or comma")
	if err := fs.Parse(args); err != nil {
		return cliArgs{}, false, report.LocaleDot, err
	}

	locale := report.LocaleDot
	if strings.EqualFold(*localeFlag, "comma") {
		locale = report.LocaleComma
	}

	pos := fs.Args()
	if len(pos) < 3 {
		return cliArgs{}, false, locale, fmt.Errorf("%s", usage())
	}

	a := cliArgs{
		accuracy:       1e-15,
		saveToFile:     true,
		compareResults: true,
		algorithmMask:  strings.Repeat("1", numAlgorithms),
		memoryBudgetMB: 1024,
	}

	k, err := strconv.Atoi(pos[0])
	if err != nil || k <= 0 {
		return cliArgs{}, false, locale, fmt.Errorf("argument 1 (k): expected a positive integer, got %q", pos[0])
	}
	a.k = k
	a.inputPath = pos[1]
	a.trainingPath = pos[2]

	if len(pos) >= 4 {
		if n, err := strconv.Atoi(pos[3]); err == nil && n > 0 {
			a.threads = n
		}
	}
	if len(pos) >= 5 {
		if d, err := strconv.ParseFloat(pos[4], 64); err == nil && d > 0 {
			a.accuracy = d
		}
	}
	if len(pos) >= 6 {
		if s, err := strconv.Atoi(pos[5]); err == nil && s > 0 {
			a.stripes = s
		}
	}
	if len(pos) >= 7 {
		if v, err := strconv.Atoi(pos[6]); err == nil && v == 0 {
			a.saveToFile = false
		}
	}
	if len(pos) >= 8 {
		if v, err := strconv.Atoi(pos[7]); err == nil && v == 0 {
			a.compareResults = false
		}
	}
	if len(pos) >= 9 {
		bs := pos[8]
		if len(bs) > 0 {
			if len(bs) < numAlgorithms {
				bs += strings.Repeat("0", numAlgorithms-len(bs))
			}
			a.algorithmMask = bs
		}
	}
	if len(pos) >= 10 {
		if limit, err := strconv.ParseUint(pos[9], 10, 64); err == nil && limit > 0 {
			a.memoryBudgetMB = limit
		}
	}

	return a, *verbose, locale, nil
}

func run(args []string) error {
	a, verbose, locale, err := parseArgs(args)
	if err != nil {
		return err
	}

	runInternal := a.algorithmMask[0] == '1'
	runExternal := len(a.algorithmMask) > 1 && a.algorithmMask[1] == '1'
	if !runInternal && !runExternal {
		return fmt.Errorf("algorithmMask %q selects no algorithm", a.algorithmMask)
	}

	var stats []report.Stat
	var reference [][]heap.Neighbor
	haveReference := false

	// compare records diffs against the first successful run's neighbor
	// lists (reference), then remembers neighbors as the new reference if
	// none has been set yet. Internal and external variants share this so
	// either can serve as the reference for the other.
	compare := func(result *knn.Result, neighbors [][]heap.Neighbor, stat *report.Stat) {
		if !a.compareResults {
			return
		}
		if !haveReference {
			reference = neighbors
			haveReference = true
			return
		}
		diffs := knn.FindDifferences(
			&knn.Result{Neighbors: neighbors},
			&knn.Result{Neighbors: reference},
			a.accuracy,
		)
		stat.Diffs = len(diffs)
		stat.First5DiffIds = diffs
		log.Printf("%s: %d differences vs reference", result.Algorithm, len(diffs))
	}

	if runInternal {
		stat, err := runInternalVariant(a, verbose, compare)
		if err != nil {
			return err
		}
		stats = append(stats, stat)
	}

	if runExternal {
		stat, err := runExternalVariant(a, verbose, compare)
		if err != nil {
			return err
		}
		stats = append(stats, stat)
	}

	statsPath := resultsStatsPath(a.inputPath)
	if err := report.WriteStats(statsPath, stats, locale); err != nil {
		return fmt.Errorf("write statistics csv: %w", err)
	}
	log.Printf("aknn: wrote statistics to %s", statsPath)

	return nil
}

// runInternalVariant loads both datasets fully into memory (the in-memory
// scheduler's whole design assumes this) and runs the internal algorithm.
func runInternalVariant(a cliArgs, verbose bool, compare func(*knn.Result, [][]heap.Neighbor, *report.Stat)) (report.Stat, error) {
	input, err := loadDataset(a.inputPath)
	if err != nil {
		return report.Stat{}, fmt.Errorf("load input dataset: %w", err)
	}
	training, err := loadDataset(a.trainingPath)
	if err != nil {
		return report.Stat{}, fmt.Errorf("load training dataset: %w", err)
	}
	log.Printf("aknn: read %d input points and %d training points", len(input), len(training))

	var algo knn.Algorithm = knn.NewInternal(
		knn.WithStripes(a.stripes),
		knn.WithThreads(a.threads),
		knn.WithVerbose(verbose),
	)

	start := time.Now()
	result, err := algo.Run(context.Background(), input, training, a.k)
	if err != nil {
		return report.Stat{}, fmt.Errorf("algorithm %s: %w", algo.Name(), err)
	}
	log.Printf("%s: duration %s sorting %s", result.Algorithm, result.DurationTotal, result.DurationSorting)

	stat := report.StatFromResult(result)
	if result.HasAllocationError {
		log.Printf("%s: allocation error, skipping save/compare for this algorithm", result.Algorithm)
		return stat, nil
	}

	if a.saveToFile {
		outPath := resultsFilePath(a.inputPath, result.Algorithm, start)
		if err := report.WriteResults(outPath, result); err != nil {
			return report.Stat{}, fmt.Errorf("save results for %s: %w", result.Algorithm, err)
		}
	}
	compare(result, result.Neighbors, &stat)
	return stat, nil
}

// runExternalVariant never materializes input or training as an in-memory
// point.Set: the algorithm's RunFromFiles entry point builds the stripe
// store straight from the dataset files and streams resolved neighbor
// lists to a temporary, id-sorted on-disk file, which is then copied into
// the results text file without ever holding every point's neighbor list
// resident at once. When comparison is requested, the file is read back
// once more and every neighbor list is loaded into memory for it.
func runExternalVariant(a cliArgs, verbose bool, compare func(*knn.Result, [][]heap.Neighbor, *report.Stat)) (report.Stat, error) {
	tmp, err := os.CreateTemp("", "aknn-neighbors-*.bin")
	if err != nil {
		return report.Stat{}, fmt.Errorf("create temp neighbor stream: %w", err)
	}
	neighborsTmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(neighborsTmpPath)

	algo := external.NewAlgorithm(
		external.WithStripes(a.stripes),
		external.WithThreads(a.threads),
		external.WithVerbose(verbose),
		external.WithMemoryBudgetBytes(a.memoryBudgetMB<<20),
	)

	start := time.Now()
	result, err := algo.RunFromFiles(context.Background(), a.inputPath, a.trainingPath, neighborsTmpPath, a.k)
	if err != nil {
		return report.Stat{}, fmt.Errorf("algorithm %s: %w", algo.Name(), err)
	}
	log.Printf("%s: duration %s sorting %s", result.Algorithm, result.DurationTotal, result.DurationSorting)

	stat := report.StatFromResult(result)
	if result.HasAllocationError {
		log.Printf("%s: allocation error, skipping save/compare for this algorithm", result.Algorithm)
		return stat, nil
	}

	if a.saveToFile {
		rs, err := external.OpenNeighborResultStream(result.NeighborsPath, false)
		if err != nil {
			return report.Stat{}, fmt.Errorf("open neighbor stream for %s: %w", result.Algorithm, err)
		}
		outPath := resultsFilePath(a.inputPath, result.Algorithm, start)
		werr := report.WriteResultsFromStream(outPath, rs)
		rs.Close()
		if werr != nil {
			return report.Stat{}, fmt.Errorf("save results for %s: %w", result.Algorithm, werr)
		}
	}

	if a.compareResults {
		neighbors, err := neighborsFromStream(result.NeighborsPath, result.InputCount)
		if err != nil {
			return report.Stat{}, fmt.Errorf("read neighbor stream for %s: %w", result.Algorithm, err)
		}
		compare(result, neighbors, &stat)
	}
	return stat, nil
}

// neighborsFromStream materializes an id-sorted neighbor stream into a
// Neighbors-shaped slice; used only for the CLI's optional compareResults
// pass, which (like the in-memory variant's FindDifferences) needs both
// runs' full neighbor lists resident at once regardless of how either was
// produced.
func neighborsFromStream(path string, count int) ([][]heap.Neighbor, error) {
	rs, err := external.OpenNeighborResultStream(path, false)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	out := make([][]heap.Neighbor, count)
	for {
		id, neighbors, ok, err := rs.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if int(id) <= len(out) {
			out[id-1] = neighbors
		}
	}
	return out, nil
}

// loadDataset dispatches on file extension: ".bin" is the binary codec,
// anything else is the whitespace-separated text format.
// Only the internal variant calls this; the external variant reads both
// datasets as streams instead (see external.RunExternalFromFiles).
func loadDataset(path string) (point.Set, error) {
	if strings.EqualFold(filepath.Ext(path), ".bin") {
		return point.LoadBinary(path, point.BinaryOptions{})
	}
	return point.LoadText(path)
}

func resultsFilePath(inputPath, algorithm string, at time.Time) string {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return fmt.Sprintf("%s_%s_%s.txt", base, algorithm, at.Format("20060102150405"))
}

func resultsStatsPath(inputPath string) string {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return fmt.Sprintf("%s_stats.csv", base)
}
