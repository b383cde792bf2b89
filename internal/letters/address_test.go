package letters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxpost/internal/models"
)

func TestParseAddress(t *testing.T) {
	t.Run("five lines", func(t *testing.T) {
		a, err := ParseAddress("John Doe\nMain St 1\n12345\nBerlin\nGermany")
		require.NoError(t, err)
		assert.Equal(t, "John Doe", a.Addressee)
		assert.Equal(t, "Main St 1", a.Line1)
		assert.Empty(t, a.Line2)
		assert.Equal(t, "12345", a.Zip)
		assert.Equal(t, "Berlin", a.City)
		assert.Equal(t, "Germany", a.Country)
		assert.True(t, a.IsComplete())
	})

	t.Run("six lines with line2", func(t *testing.T) {
		a, err := ParseAddress("Mary Smith\n123 Baker Street\nApartment 4\nNW1 6XE\nLondon\nUnited Kingdom")
		require.NoError(t, err)
		assert.Equal(t, "Apartment 4", a.Line2)
		assert.Equal(t, "NW1 6XE", a.Zip)
		assert.Equal(t, "London", a.City)
	})

	t.Run("blank lines are skipped", func(t *testing.T) {
		a, err := ParseAddress("John Doe\n\nMain St 1\n\n12345\nBerlin\nGermany\n")
		require.NoError(t, err)
		assert.Equal(t, "John Doe", a.Addressee)
		assert.Equal(t, "Germany", a.Country)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ParseAddress("John Doe\nMain St 1\nBerlin")
		assert.ErrorIs(t, err, ErrAddressTooShort)
	})

	t.Run("too long", func(t *testing.T) {
		_, err := ParseAddress("a\nb\nc\nd\ne\nf\ng")
		assert.ErrorIs(t, err, ErrAddressTooLong)
	})
}

func TestParseAddressRoundTrip(t *testing.T) {
	inputs := []string{
		"John Doe\nMain St 1\n12345\nBerlin\nGermany",
		"Mary Smith\n123 Baker Street\nApartment 4\nNW1 6XE\nLondon\nUnited Kingdom",
	}
	for _, input := range inputs {
		parsed, err := ParseAddress(input)
		require.NoError(t, err)
		again, err := ParseAddress(parsed.FormatSimple())
		require.NoError(t, err)
		assert.Equal(t, parsed, again)
	}
}

func TestFormatAddressBook(t *testing.T) {
	book := []models.Address{
		{Addressee: "John Doe", Line1: "Main St 1", Zip: "12345", City: "Berlin", Country: "Germany"},
		{Addressee: "Mary Smith", Line1: "Baker St 123", Zip: "NW1", City: "London", Country: "UK"},
	}
	rendered := formatAddressBook(book)
	assert.Contains(t, rendered, "1.\nJohn Doe")
	assert.Contains(t, rendered, "2.\nMary Smith")
}
