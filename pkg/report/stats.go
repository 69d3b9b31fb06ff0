package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/thcristo/planesweep-knn/pkg/knn"
)

// Locale selects the decimal separator the statistics CSV writer uses.
// The core algorithm stays locale-ignorant; only this writer cares.
type Locale int

const (
	// LocaleDot formats floats with '.' as the decimal separator.
	LocaleDot Locale = iota
	// LocaleComma formats floats with ',' as the decimal separator,
	// for European-locale spreadsheet imports.
	LocaleComma
)

// Stat is one algorithm run's statistics CSV row.
type Stat struct {
	Algorithm string

	TotalSec     float64
	SortSec      float64
	CommitSec    float64
	FinalSortSec float64

	TotalAdditions uint64
	MinAdditions   uint64
	MaxAdditions   uint64
	AvgAdditions   float64

	NumStripes int

	HasAllocationError bool
	PendingPoints      int
	FirstPassWindows   int
	SecondPassWindows  int

	// Diffs and First5DiffIds are filled in by the CLI's compareResults
	// pass; zero/nil when this is the reference run or comparison was
	// disabled.
	Diffs         int
	First5DiffIds []uint64
}

// StatFromResult builds a Stat row from an algorithm Result. Diffs and
// First5DiffIds are left zero; the caller fills them in after comparing
// against the reference algorithm's output.
func StatFromResult(r *knn.Result) Stat {
	return Stat{
		Algorithm:           r.Algorithm,
		TotalSec:            r.DurationTotal.Seconds(),
		SortSec:             r.DurationSorting.Seconds(),
		CommitSec:           r.DurationCommit.Seconds(),
		FinalSortSec:        r.DurationFinalize.Seconds(),
		TotalAdditions:      r.TotalAdditions,
		MinAdditions:        r.MinAdditions,
		MaxAdditions:        r.MaxAdditions,
		AvgAdditions:        r.AverageAdditions(),
		NumStripes:          r.NumStripes,
		HasAllocationError:  r.HasAllocationError,
		PendingPoints:       r.PendingPointsPeak,
		FirstPassWindows:    r.FirstPassWindows,
		SecondPassWindows:   r.SecondPassWindows,
	}
}

// WriteStats writes one semicolon-separated row per element of stats to
// path:
// algorithm;totalSec;sortSec;totalAdds;minAdds;maxAdds;avgAdds;numStripes;
// hasAllocError;pendingPoints;firstPassWindows;secondPassWindows;commitSec;
// finalSortSec;diffs;first5DiffIds
func WriteStats(path string, stats []Stat, locale Locale) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'
	w.UseCRLF = false

	for _, s := range stats {
		record := []string{
			s.Algorithm,
			formatFloat(s.TotalSec, locale),
			formatFloat(s.SortSec, locale),
			strconv.FormatUint(s.TotalAdditions, 10),
			strconv.FormatUint(s.MinAdditions, 10),
			strconv.FormatUint(s.MaxAdditions, 10),
			formatFloat(s.AvgAdditions, locale),
			strconv.Itoa(s.NumStripes),
			strconv.FormatBool(s.HasAllocationError),
			strconv.Itoa(s.PendingPoints),
			strconv.Itoa(s.FirstPassWindows),
			strconv.Itoa(s.SecondPassWindows),
			formatFloat(s.CommitSec, locale),
			formatFloat(s.FinalSortSec, locale),
			strconv.Itoa(s.Diffs),
			formatIDs(s.First5DiffIds),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64, locale Locale) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	if locale == LocaleComma {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s
}

func formatIDs(ids []uint64) string {
	if len(ids) == 0 {
		return ""
	}
	n := len(ids)
	if n > 5 {
		n = 5
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = strconv.FormatUint(ids[i], 10)
	}
	return strings.Join(parts, " ")
}
