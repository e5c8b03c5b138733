package footnote

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanOrder(t *testing.T) {
	text := "A[^7] b[^x].\n[^7]: [TERM] a\n  more [^2]"
	occs := Scan(text)
	require.Len(t, occs, 4)
	assert.Equal(t, Occurrence{Kind: KindMarker, ID: "7", Start: 3, End: 4}, occs[0])
	assert.Equal(t, "x", occs[1].ID)
	assert.False(t, occs[1].Numeric())
	assert.Equal(t, KindDefinition, occs[2].Kind)
	assert.Equal(t, "7", text[occs[2].Start:occs[2].End])
	assert.Equal(t, KindMarker, occs[3].Kind)
	assert.Equal(t, "2", occs[3].ID)
}

func TestRenumberFirstOccurrenceOrder(t *testing.T) {
	text := "one[^4] two[^2] three[^4]\n\n[^2]: [TERM] two\n[^4]: [TERM] one"
	got, next := Renumber(text, 1)
	assert.Equal(t, "one[^1] two[^2] three[^1]\n\n[^2]: [TERM] two\n[^1]: [TERM] one", got)
	assert.Equal(t, 3, next)
}

func TestRenumberDefinitionFirst(t *testing.T) {
	text := "[^9]: [TERM] early\nbody[^3] and[^9]"
	got, next := Renumber(text, 5)
	assert.Equal(t, "[^5]: [TERM] early\nbody[^6] and[^5]", got)
	assert.Equal(t, 7, next)
}

func TestRenumberLeavesNonNumericIDs(t *testing.T) {
	text := "quote[^src-1] word[^1]\n\n[^1]: [TERM] word"
	got, next := Renumber(text, 10)
	assert.Equal(t, "quote[^src-1] word[^10]\n\n[^10]: [TERM] word", got)
	assert.Equal(t, 11, next)
}

func TestRenumberNoFootnotes(t *testing.T) {
	got, next := Renumber("plain text", 4)
	assert.Equal(t, "plain text", got)
	assert.Equal(t, 4, next)
}

func TestRenumberIdempotent(t *testing.T) {
	texts := []string{
		"a[^3] b[^1] c[^3]\n\n[^1]: [TERM] b\n[^3]: [PERSON] a",
		"x[^12]\n[^12]: [PLACE] x\n  continued",
		"sun[^1] set.[^2]\n\n[^1]: [TERM] sun\n[^2]: [CONTEXT] set",
	}
	for _, text := range texts {
		once, next := Renumber(text, 1)
		twice, nextAgain := Renumber(once, 1)
		assert.Equal(t, once, twice)
		assert.Equal(t, next, nextAgain)
	}
}

func TestRenumberSequentialWithoutGaps(t *testing.T) {
	text := "a[^40] b[^7] c[^40] d[^13] e[^2]\n[^13]: [TERM] d\n[^7]: [TERM] b"
	got, next := Renumber(text, 3)
	seen := map[string]bool{}
	var order []string
	for _, occ := range Scan(got) {
		if !seen[occ.ID] {
			seen[occ.ID] = true
			order = append(order, occ.ID)
		}
	}
	require.Len(t, order, next-3)
	for i, id := range order {
		assert.Equal(t, strconv.Itoa(3+i), id)
	}
}

func TestDefinitionsWithContinuation(t *testing.T) {
	text := "Body[^1] text[^2].\n\n[^1]: [TERM] Body:   the\n  main   part\n\tof it\n[^2]: [WORK] Text"
	defs := Definitions(text)
	require.Len(t, defs, 2)
	assert.Equal(t, "1", defs[0].ID)
	assert.Equal(t, "[TERM] Body: the main part of it", defs[0].Text)
	assert.Equal(t, "[^1]: [TERM] Body:   the\n  main   part\n\tof it", defs[0].Raw)
	assert.Equal(t, "[WORK] Text", defs[1].Text)
}

func TestEnsureAtEndRelocatesEmbeddedDefinitions(t *testing.T) {
	text := "First[^1] para.\n\n[^1]: [TERM] first\n\nSecond[^2] para.\n[^2]: [TERM] second\nThird para."
	got := EnsureAtEnd(text)
	assert.Equal(t, "First[^1] para.\n\nSecond[^2] para.\nThird para.\n\n[^1]: [TERM] first\n[^2]: [TERM] second", got)
	assert.Equal(t, got, EnsureAtEnd(got))
	assert.Equal(t, "no notes", EnsureAtEnd("no notes"))
}

func TestStripMarkup(t *testing.T) {
	text := "The sun[^1] set.[^2]\n\n[^1]: [TERM] sun\n[^2]: [CONTEXT] set"
	assert.Equal(t, "The sun set.\n", StripMarkup(text))
}

func TestUnpaired(t *testing.T) {
	markers, defs := Unpaired("a[^1] b[^2] a[^1]\n\n[^1]: [TERM] a\n[^3]: [TERM] c")
	assert.Equal(t, []string{"2"}, markers)
	assert.Equal(t, []string{"3"}, defs)

	markers, defs = Unpaired("x[^1]\n\n[^1]: [TERM] x")
	assert.Empty(t, markers)
	assert.Empty(t, defs)
}

func TestCombineCarriesOffset(t *testing.T) {
	first := "Alpha[^1] beta[^2].\n\n[^1]: [TERM] alpha\n[^2]: [TERM] beta"
	second := "Gamma[^1] delta[^2] eps[^3].\n\n[^1]: [TERM] gamma\n[^2]: [TERM] delta\n[^3]: [TERM] eps"
	got, next := Combine([]string{first, second}, 1)
	assert.Equal(t, 6, next)
	assert.Equal(t,
		"Alpha[^1] beta[^2].\n\n[^1]: [TERM] alpha\n[^2]: [TERM] beta\n\n"+
			"Gamma[^3] delta[^4] eps[^5].\n\n[^3]: [TERM] gamma\n[^4]: [TERM] delta\n[^5]: [TERM] eps",
		got)
}
