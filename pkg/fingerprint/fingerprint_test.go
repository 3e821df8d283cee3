package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowIsDeterministic(t *testing.T) {
	cells := []string{"Durand", "Marie", "12 rue des Lilas"}
	assert.Equal(t, Row(cells), Row([]string{"Durand", "Marie", "12 rue des Lilas"}))
}

func TestRowIsOrderSensitive(t *testing.T) {
	assert.NotEqual(t, Row([]string{"a", "b"}), Row([]string{"b", "a"}))
}

func TestRowIsWhitespaceSensitive(t *testing.T) {
	assert.NotEqual(t, Row([]string{"Durand"}), Row([]string{"Durand "}))
}

func TestRowCellBoundariesMatter(t *testing.T) {
	// Two cells must never collapse into the same digest as their
	// concatenation in one cell.
	assert.NotEqual(t, Row([]string{"ab", "c"}), Row([]string{"a", "bc"}))
}

func TestRowsDistinguishRowBoundaries(t *testing.T) {
	one := Rows([][]string{{"a", "b"}, {"c"}})
	other := Rows([][]string{{"a", "b", "c"}})
	assert.NotEqual(t, one, other)
}

func TestHasChanged(t *testing.T) {
	fp := Row([]string{"x"})
	assert.False(t, HasChanged(fp, Row([]string{"x"})))
	assert.True(t, HasChanged(fp, Row([]string{"y"})))
}

func TestCache(t *testing.T) {
	c := NewCache()
	fp := Row([]string{"Durand"})

	assert.False(t, c.Unchanged("Corse_row_4", fp))
	c.Set("Corse_row_4", fp)
	assert.True(t, c.Unchanged("Corse_row_4", fp))
	assert.False(t, c.Unchanged("Corse_row_4", Row([]string{"Martin"})))
	assert.Equal(t, fp, c.Get("Corse_row_4"))
}
