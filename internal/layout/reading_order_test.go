package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// spanAt builds a 20px-tall box centered on (cx, cy)
func spanAt(text string, cx, cy float64) ocr.TextSpan {
	return ocr.TextSpan{
		Box:        ocr.RectQuad(cx-10, cy-10, cx+10, cy+10),
		Text:       text,
		Confidence: 0.9,
	}
}

func lineTexts(lines []Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text()
	}
	return out
}

func TestAssembler_EmptyInput(t *testing.T) {
	a := NewAssembler(20)
	assert.Equal(t, "", a.Assemble(nil))
	assert.Nil(t, a.Lines([]ocr.TextSpan{}))
}

func TestAssembler_SingleSpanIsTrimmed(t *testing.T) {
	a := NewAssembler(20)
	assert.Equal(t, "Invoice", a.Assemble([]ocr.TextSpan{spanAt("  Invoice \n", 50, 50)}))
}

func TestAssembler_ReferenceFollowsEverySpan(t *testing.T) {
	a := NewAssembler(20)

	// 25-10 = 15 merges; 45-25 = 20 is not greater than 20 so it merges too
	spans := []ocr.TextSpan{
		spanAt("c", 10, 45),
		spanAt("a", 10, 10),
		spanAt("b", 10, 25),
	}

	lines := a.Lines(spans)
	require.Len(t, lines, 1)
	assert.Equal(t, []string{"a b c"}, lineTexts(lines))
}

func TestAssembler_BreaksWhenDistanceExceedsThreshold(t *testing.T) {
	a := NewAssembler(20)

	spans := []ocr.TextSpan{
		spanAt("first", 10, 10),
		spanAt("second", 10, 15),
		spanAt("third", 10, 40),
	}

	lines := a.Lines(spans)
	assert.Equal(t, []string{"first second", "third"}, lineTexts(lines))
	assert.Equal(t, "first second third", a.Assemble(spans))
}

func TestAssembler_JustOverThresholdBreaks(t *testing.T) {
	a := NewAssembler(20)
	lines := a.Lines([]ocr.TextSpan{spanAt("x", 0, 10), spanAt("y", 0, 30.5)})
	assert.Len(t, lines, 2)
}

func TestAssembler_TopToBottomLeftToRight(t *testing.T) {
	a := NewAssembler(20)

	spans := []ocr.TextSpan{
		spanAt("world", 300, 100),
		spanAt("second", 50, 200),
		spanAt("hello", 100, 100),
		spanAt("line", 200, 200),
	}

	assert.Equal(t, "hello world second line", a.Assemble(spans))
}

func TestAssembler_SortIsByYBeforeX(t *testing.T) {
	a := NewAssembler(20)

	// same visual line, but the right-hand word sits slightly higher
	spans := []ocr.TextSpan{
		spanAt("left", 10, 104),
		spanAt("right", 200, 100),
	}

	assert.Equal(t, "right left", a.Assemble(spans))
}

func TestAssembler_Deterministic(t *testing.T) {
	a := NewAssembler(20)

	spans := []ocr.TextSpan{
		spanAt("b", 40, 10),
		spanAt("a", 40, 10),
		spanAt("c", 5, 60),
		spanAt("d", 90, 61),
	}

	first := a.Assemble(spans)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, a.Assemble(spans))
	}
	// identical centers keep input order
	assert.Equal(t, "b a c d", first)
}

func TestAssembler_DoesNotReorderInput(t *testing.T) {
	a := NewAssembler(20)
	spans := []ocr.TextSpan{spanAt("z", 0, 90), spanAt("y", 0, 10)}
	_ = a.Assemble(spans)
	assert.Equal(t, "z", spans[0].Text)
}

func TestAssembler_CustomThreshold(t *testing.T) {
	spans := []ocr.TextSpan{spanAt("a", 0, 0), spanAt("b", 0, 30)}

	assert.Len(t, NewAssembler(20).Lines(spans), 2)
	assert.Len(t, NewAssembler(40).Lines(spans), 1)
	assert.Equal(t, DefaultLineThreshold, NewAssembler(0).LineThreshold())
}

func TestReadingOrder_UsesDiagonalCorners(t *testing.T) {
	// skewed quad: corner 0 and corner 2 define the center
	skewed := ocr.TextSpan{
		Box:  ocr.Quad{{X: 0, Y: 100}, {X: 50, Y: 0}, {X: 100, Y: 100}, {X: 50, Y: 200}},
		Text: "skewed",
	}
	flat := spanAt("flat", 500, 50)

	assert.Equal(t, []int{1, 0}, ReadingOrder([]ocr.TextSpan{skewed, flat}))
}

func TestJoinLines_MatchesAssembleAndSkipsBlankLines(t *testing.T) {
	a := NewAssembler(20)
	spans := []ocr.TextSpan{
		spanAt("Total", 10, 10),
		spanAt("  ", 10, 60),
		spanAt("42.00", 40, 12),
		spanAt("Paid", 10, 120),
	}

	lines := a.Lines(spans)
	require.Len(t, lines, 3)
	assert.Equal(t, "Total 42.00 Paid", JoinLines(lines))
	assert.Equal(t, a.Assemble(spans), JoinLines(lines))
	assert.Equal(t, "", JoinLines(nil))
}
