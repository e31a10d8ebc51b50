package formats

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// Line-level errors. These never abort a parse; they are collected as
// LineWarning values on the result.
var (
	ErrMissingArguments = errors.New("missing arguments")
	ErrInvalidNumber    = errors.New("invalid number")
)

// LineWarning describes a recognized line that could not be applied.
// The parse continues with the next line.
type LineWarning struct {
	Line int    // 1-based line number
	Text string // Raw line text
	Err  error
}

// Error implements error.
func (w LineWarning) Error() string {
	if w.Line == 0 {
		return w.Err.Error()
	}
	return fmt.Sprintf("line %d %q: %v", w.Line, w.Text, w.Err)
}

// Unwrap returns the underlying cause.
func (w LineWarning) Unwrap() error {
	return w.Err
}

// line is one tokenized source line.
type line struct {
	num     int
	raw     string
	keyword string
	args    []string
	rest    string // Everything after the keyword, trimmed
}

// tokenize splits a raw line into keyword and whitespace-delimited args.
// A keyword starting with '#' marks a comment line.
func tokenize(num int, raw string) line {
	l := line{num: num, raw: raw}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return l
	}
	if strings.HasPrefix(fields[0], "#") {
		l.keyword = "#"
		return l
	}

	l.keyword = fields[0]
	l.args = fields[1:]
	text := strings.TrimSpace(raw)
	l.rest = strings.TrimSpace(text[len(fields[0]):])
	return l
}

func (l line) warning(err error) LineWarning {
	return LineWarning{Line: l.num, Text: l.raw, Err: err}
}

// name returns the remainder of the line, for names that may contain spaces.
func (l line) name() (string, error) {
	if l.rest == "" {
		return "", fmt.Errorf("%s: %w", l.keyword, ErrMissingArguments)
	}
	return l.rest, nil
}

func parseFloat(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return float32(v), nil
}

// parseFloats parses the first n args. Extra args are ignored.
func parseFloats(args []string, n int) ([]float32, error) {
	if len(args) < n {
		return nil, fmt.Errorf("%w: want %d values, got %d", ErrMissingArguments, n, len(args))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v, err := parseFloat(args[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseVec3(args []string) (mgl32.Vec3, error) {
	v, err := parseFloats(args, 3)
	if err != nil {
		return mgl32.Vec3{}, err
	}
	return mgl32.Vec3{v[0], v[1], v[2]}, nil
}

func parseVec2(args []string) (mgl32.Vec2, error) {
	v, err := parseFloats(args, 2)
	if err != nil {
		return mgl32.Vec2{}, err
	}
	return mgl32.Vec2{v[0], v[1]}, nil
}
