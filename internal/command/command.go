// Package command parses slash commands out of message text and suggests
// the closest known command for typos.
package command

import (
	"strings"

	"github.com/xrash/smetrics"
)

// Known is the set of commands the dispatch engine registers handlers for.
// Callback and implicit commands (voice, *_callback) are not listed; they
// are derived from message type and button taps, never typed.
var Known = []string{
	"help",
	"report_bug",
	"edit_prompt",
	"edit",
	"show_address_book",
	"add_address",
	"delete_address",
	"send",
}

// NoCommand is returned by Parse for free text without a leading slash.
const NoCommand = "_no_command"

// Parse splits message text into a command token and the remaining payload.
// Text without a leading "/" maps to the NoCommand sentinel with the full
// text as payload. The command token is lowercased; it is not validated
// against Known so the caller can run unknown-command suggestion.
func Parse(text string) (cmd, payload string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return NoCommand, trimmed
	}
	rest := trimmed[1:]
	cut := len(rest)
	for i, r := range rest {
		if r == ' ' || r == '\n' || r == '\t' {
			cut = i
			break
		}
	}
	cmd = strings.ToLower(rest[:cut])
	payload = strings.TrimSpace(rest[cut:])
	if cmd == "" {
		return NoCommand, payload
	}
	return cmd, payload
}

// Suggest returns the known command closest to the given token. There is no
// similarity floor; even a weak match is a better reply than silence.
func Suggest(token string) string {
	best := Known[0]
	bestScore := -1.0
	lower := strings.ToLower(token)
	for _, candidate := range Known {
		score := smetrics.JaroWinkler(lower, candidate, 0.7, 4)
		if strings.Contains(candidate, lower) || strings.Contains(lower, candidate) {
			score += 0.5
		}
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best
}

// BestMatch scores candidates against a free-text query and returns the
// index of the best one, or -1 when nothing reaches the floor. Used for
// matching recipient names against the address book.
func BestMatch(query string, candidates []string, floor float64) int {
	bestIdx := -1
	bestScore := floor
	lower := strings.ToLower(strings.TrimSpace(query))
	for i, candidate := range candidates {
		score := smetrics.JaroWinkler(lower, strings.ToLower(candidate), 0.7, 4)
		if score >= bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return bestIdx
}
