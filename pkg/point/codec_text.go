package point

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseError reports a malformed record in a text point-dataset file,
// carrying the filename and 1-based line number.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// LoadText reads a whitespace-separated "id x y" point dataset, one record
// per line.
func LoadText(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var out Set
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, &ParseError{File: path, Line: line, Err: fmt.Errorf("expected 3 fields, got %d", len(fields))}
		}

		id, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, &ParseError{File: path, Line: line, Err: errors.Wrap(err, "parsing id")}
		}
		x, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, &ParseError{File: path, Line: line, Err: errors.Wrap(err, "parsing x")}
		}
		y, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, &ParseError{File: path, Line: line, Err: errors.Wrap(err, "parsing y")}
		}

		out = append(out, Point{Id: id, X: x, Y: y})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	return out, nil
}

// SaveText writes s in the "id x y" text format.
func SaveText(path string, s Set) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, p := range s {
		if _, err := fmt.Fprintf(w, "%d %.17g %.17g\n", p.Id, p.X, p.Y); err != nil {
			return errors.Wrapf(err, "write %s", path)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "flush %s", path)
	}
	return nil
}
