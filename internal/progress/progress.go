// Package progress turns transcoder status lines into a completion fraction.
//
// A Parser is created per job. Its total (seconds of media or number of
// frames) is resolved once up front; each Feed call then matches one status
// line and updates the current position. Lines that do not match leave the
// state untouched, so interleaved warnings and banners are harmless.
package progress

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync"

	"idmark/internal/services"
)

// Unit selects how a Parser reads status lines.
type Unit int

const (
	// UnitSeconds reads "time=HH:MM:SS.ff" and compares against a duration.
	UnitSeconds Unit = iota
	// UnitFrames reads "frame=N" and compares against a frame count.
	UnitFrames
)

func (u Unit) String() string {
	if u == UnitFrames {
		return "frames"
	}
	return "seconds"
}

// Resolver returns the total for source in the parser's unit.
type Resolver func(ctx context.Context, source string) (float64, error)

var (
	timePattern  = regexp.MustCompile(`time=\s*(\d+):(\d{1,2}):(\d{1,2}(?:\.\d+)?)`)
	framePattern = regexp.MustCompile(`frame=\s*(\d+)`)
)

// State is a snapshot of a parser.
type State struct {
	Unit    Unit
	Total   float64
	Current float64
}

// Fraction returns Current/Total clamped to [0,1]; zero when Total is not positive.
func (s State) Fraction() float64 {
	if s.Total <= 0 || math.IsNaN(s.Total) {
		return 0
	}
	f := s.Current / s.Total
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// Parser tracks one job's progress. Feed is safe to call from the stdout and
// stderr readers concurrently.
type Parser struct {
	mu    sync.Mutex
	state State
}

// New resolves the total for source and returns a ready parser. A resolver
// failure is reported as services.ErrMetadata.
func New(ctx context.Context, unit Unit, source string, resolve Resolver) (*Parser, error) {
	if resolve == nil {
		return nil, services.Wrap(services.ErrMetadata, "", "progress", "no total resolver", nil)
	}
	total, err := resolve(ctx, source)
	if err != nil {
		return nil, services.Wrap(services.ErrMetadata, "", "progress",
			fmt.Sprintf("resolve %s total for %s", unit, source), err)
	}
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		total = 0
	}
	return NewWithTotal(unit, total), nil
}

// NewWithTotal returns a parser with a known total.
func NewWithTotal(unit Unit, total float64) *Parser {
	return &Parser{state: State{Unit: unit, Total: total}}
}

// Feed consumes one status line. It returns the clamped fraction and true
// when the line carried a position, or (0, false) otherwise.
func (p *Parser) Feed(line string) (float64, bool) {
	if line == "" {
		return 0, false
	}
	var (
		current float64
		ok      bool
	)
	switch p.unit() {
	case UnitFrames:
		current, ok = parseFrames(line)
	default:
		current, ok = parseTimestamp(line)
	}
	if !ok {
		return 0, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Current = current
	return p.state.Fraction(), true
}

// Snapshot returns the current state.
func (p *Parser) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Parser) unit() Unit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Unit
}

func parseTimestamp(line string) (float64, bool) {
	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return float64(hours*3600+minutes*60) + seconds, true
}

func parseFrames(line string) (float64, bool) {
	m := framePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return float64(n), true
}
