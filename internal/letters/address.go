package letters

import (
	"errors"
	"fmt"
	"strings"

	"github.com/voxpost/internal/models"
)

var (
	// ErrAddressTooShort means fewer than five non-empty lines.
	ErrAddressTooShort = errors.New("address has too few lines")
	// ErrAddressTooLong means more than six non-empty lines.
	ErrAddressTooLong = errors.New("address has too many lines")
)

// ParseAddress reads a five- or six-line address block:
//
//	addressee
//	line 1
//	[line 2]
//	postal code
//	city
//	country
//
// Blank lines are skipped. The same shape FormatSimple produces, so parsing
// a formatted address round-trips.
func ParseAddress(body string) (models.Address, error) {
	var lines []string
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 5 {
		return models.Address{}, ErrAddressTooShort
	}
	if len(lines) > 6 {
		return models.Address{}, ErrAddressTooLong
	}
	a := models.Address{
		Addressee: lines[0],
		Line1:     lines[1],
	}
	rest := lines[2:]
	if len(lines) == 6 {
		a.Line2 = lines[2]
		rest = lines[3:]
	}
	a.Zip = rest[0]
	a.City = rest[1]
	a.Country = rest[2]
	return a, nil
}

// formatAddressBook renders a numbered address book for replies.
func formatAddressBook(addresses []models.Address) string {
	var b strings.Builder
	for i, a := range addresses {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d.\n%s", i+1, a.FormatSimple())
	}
	return b.String()
}
