/**
 * Reading-Order Assembler
 *
 * Rebuilds top-to-bottom, left-to-right text from unordered spans:
 * - center of each span = midpoint of corners 0 and 2
 * - stable sort by (center y, center x)
 * - a new line starts when a span's y differs from the previous span's y by
 *   more than the line threshold; the reference y follows every span
 * - words and lines are joined with single spaces
 */

package layout

import (
	"math"
	"sort"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// DefaultLineThreshold is the line-break distance in source pixels
const DefaultLineThreshold = 20.0

// Assembler groups spans into reading order. The zero value is not usable;
// construct with NewAssembler.
type Assembler struct {
	lineThreshold float64
}

// Line is one reconstructed line of spans in left-to-right order
type Line struct {
	Spans []ocr.TextSpan
}

// Text joins the line's span texts with single spaces
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Spans))
	for _, s := range l.Spans {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// NewAssembler creates an assembler; non-positive thresholds use the default
func NewAssembler(lineThreshold float64) *Assembler {
	if lineThreshold <= 0 {
		lineThreshold = DefaultLineThreshold
	}
	return &Assembler{lineThreshold: lineThreshold}
}

// LineThreshold returns the configured threshold
func (a *Assembler) LineThreshold() float64 {
	return a.lineThreshold
}

// Assemble returns the spans' text in reading order as one flat string
func (a *Assembler) Assemble(spans []ocr.TextSpan) string {
	return JoinLines(a.Lines(spans))
}

// JoinLines flattens grouped lines, skipping empty ones
func JoinLines(lines []Line) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if t := l.Text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Lines groups spans into lines without flattening. The input is not modified.
func (a *Assembler) Lines(spans []ocr.TextSpan) []Line {
	if len(spans) == 0 {
		return nil
	}

	order := ReadingOrder(spans)

	var lines []Line
	var current Line
	refY := 0.0
	for i, idx := range order {
		span := spans[idx]
		y := span.Box.Center().Y
		if i > 0 && math.Abs(y-refY) > a.lineThreshold {
			lines = append(lines, current)
			current = Line{}
		}
		current.Spans = append(current.Spans, span)
		refY = y
	}
	return append(lines, current)
}

// ReadingOrder returns span indices sorted by center y then center x. Equal
// centers keep their input order.
func ReadingOrder(spans []ocr.TextSpan) []int {
	order := make([]int, len(spans))
	centers := make([]ocr.Point, len(spans))
	for i, s := range spans {
		order[i] = i
		centers[i] = s.Box.Center()
	}

	sort.SliceStable(order, func(i, j int) bool {
		ci, cj := centers[order[i]], centers[order[j]]
		if ci.Y != cj.Y {
			return ci.Y < cj.Y
		}
		return ci.X < cj.X
	})
	return order
}
