package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantCmd     string
		wantPayload string
	}{
		{"plain command", "/help", "help", ""},
		{"command with payload", "/send Grandma Mary", "send", "Grandma Mary"},
		{"command uppercased", "/SEND mary", "send", "mary"},
		{"multiline payload", "/add_address\nJohn Doe\nMain St 1", "add_address", "John Doe\nMain St 1"},
		{"surrounding whitespace", "  /edit make it warmer  ", "edit", "make it warmer"},
		{"no command", "hello there", NoCommand, "hello there"},
		{"empty text", "", NoCommand, ""},
		{"bare slash", "/", NoCommand, ""},
		{"slash mid-text", "what does /help do", NoCommand, "what does /help do"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, payload := Parse(tt.input)
			assert.Equal(t, tt.wantCmd, cmd)
			assert.Equal(t, tt.wantPayload, payload)
		})
	}
}

func TestSuggest(t *testing.T) {
	tests := []struct {
		typo string
		want string
	}{
		{"sned", "send"},
		{"halp", "help"},
		{"add_adress", "add_address"},
		{"address_book", "show_address_book"},
		{"edit", "edit"},
		{"editprompt", "edit_prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.typo, func(t *testing.T) {
			assert.Equal(t, tt.want, Suggest(tt.typo))
		})
	}
}

func TestSuggestAlwaysReturnsSomething(t *testing.T) {
	// No score floor: even garbage yields a suggestion.
	got := Suggest("zzzzqqqq")
	assert.Contains(t, Known, got)
}

func TestBestMatch(t *testing.T) {
	names := []string{"Grandma Mary", "Uncle Bob", "Doris Meier"}

	t.Run("close match wins", func(t *testing.T) {
		assert.Equal(t, 0, BestMatch("grandma mary", names, 0.5))
		assert.Equal(t, 1, BestMatch("uncle bob", names, 0.5))
	})

	t.Run("typo still matches", func(t *testing.T) {
		assert.Equal(t, 2, BestMatch("doris meyer", names, 0.5))
	})

	t.Run("below floor returns -1", func(t *testing.T) {
		assert.Equal(t, -1, BestMatch("xyz", names, 0.5))
	})

	t.Run("empty candidates", func(t *testing.T) {
		assert.Equal(t, -1, BestMatch("anything", nil, 0.5))
	})
}
