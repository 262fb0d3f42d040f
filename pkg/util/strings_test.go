package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	for _, in := range []string{"eur/usd", " EUR_USD ", "eur-usd", "EURUSD"} {
		assert.Equal(t, "EURUSD", NormalizeSymbol(in), in)
	}
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitCSV(" a, ,b,"))
	assert.Nil(t, SplitCSV(""))
}

func TestParseIntDefault(t *testing.T) {
	assert.Equal(t, 7, ParseIntDefault("", 7))
	assert.Equal(t, 7, ParseIntDefault("x", 7))
	assert.Equal(t, 42, ParseIntDefault("42", 7))
}
