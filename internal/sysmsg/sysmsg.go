// Package sysmsg holds the default reply copy, keyed by identifier. The
// identifier convention is <command>-success[-<variant>],
// <command>-error-<reason>, and <command>-option-<label> for button labels.
// Deployments can override any entry through the system_messages table.
package sysmsg

// Defaults is the built-in copy. Entries with format verbs are filled with
// fmt.Sprintf at the call site.
var Defaults = map[string]string{
	"help-success": "Hi, I am your VoxPost bot \U0001F916. You can send me a voice memo and I will turn it " +
		"into a letter. Commands I understand:\n" +
		"/help: show this message\n" +
		"/add_address: add an address to your address book. Just paste the address below the command\n" +
		"/show_address_book: show the addresses you have saved\n" +
		"/delete_address: delete an address. Pass the number from /show_address_book or a name\n" +
		"/edit: change your current draft, e.g. '/edit make it warmer'\n" +
		"/edit_prompt: change how I write your letters, e.g. '/edit_prompt write in a formal tone'\n" +
		"/send: send your draft. Tell me who to send it to, e.g. '/send Grandma Mary'\n" +
		"/report_bug: tell us about a problem",

	"no_command-success": "Hi! If you want me to write a letter you can send me a voice memo. " +
		"Type /help to see everything I can do.",

	"unknown_command-success": "I did not recognize that command. Did you mean /%s? Type /help to see all commands.",

	"report_bug-success": "Thanks for reporting this, we will look into it!",

	"edit_prompt-error-msg_empty": "To change how I write your letters, add the instructions after the " +
		"command, e.g. '/edit_prompt write short sentences'.",
	"edit_prompt-success": "Done! From now on I will write your letters like this:\n\n%s",

	"voice-confirm": "Happy days! I received your voice memo and I am busy writing your letter ✍️",
	"voice-error-too_short": "That memo was very short. I will still try to turn it into a letter, " +
		"but consider sending a longer one.",
	"voice-error-characters_not_supported": "Your letter contains characters I cannot print yet. " +
		"Only Latin-script letters are supported for now.",
	"voice-success": "Here is your draft! You can change it with /edit or send it with /send.",

	"edit-confirm":              "Got it, I am updating your draft ✍️",
	"edit-error-msg_empty":      "Tell me what to change, e.g. '/edit mention that I will visit in May'.",
	"edit-error-no_draft_found": "I could not find a draft to edit. Send me a voice memo first.",
	"edit-success":              "Here is the updated draft. More changes with /edit, or /send it off.",

	"show_address_book-error-no_addresses": "Your address book is empty. Add one with /add_address.",
	"show_address_book-success": "These are the addresses in your address book:\n\n%s\nThe first name " +
		"in your book is '%s'. To send your letter there, type '/send %s'.",

	"add_address-error-msg_empty": "Paste the address below the command, e.g.:\n/add_address\nMary " +
		"Smith\n123 Baker Street\n12345 London\nUnited Kingdom",
	"add_address-error-too_short": "That address has too few lines. I need at least: addressee, street " +
		"line, postal code + city, and country.",
	"add_address-error-too_long": "That address has too many lines. I can use at most: addressee, two " +
		"street lines, postal code + city, and country.",
	"add_address-success": "Does this look right?\n\n%s",
	"add_address-option-confirm": "✅ Looks good",
	"add_address-option-cancel":  "❌ Discard",

	"add_address_callback-confirm": "Saved! The address is now in your address book.",
	"add_address_callback-cancel":  "Discarded. You can try again with /add_address.",
	"add_address_callback-success-follow_up": "By the way, you can now send your draft there with " +
		"'/send %s'.",

	"delete_address-error-msg_empty": "Tell me which address to delete, either by number from " +
		"/show_address_book or by name, e.g. '/delete_address 2'.",
	"delete_address-error-invalid_idx": "That number is not in your address book. Check " +
		"/show_address_book and try again.",
	"delete_address-success": "Deleted. This is your address book now:\n\n%s",

	"send-error-msg_empty":         "Tell me who to send the letter to, e.g. '/send Grandma Mary'.",
	"send-error-no_draft":          "There is no draft to send. Record a voice memo first.",
	"send-error-no_addresses":      "Your address book is empty. Add the recipient with /add_address first.",
	"send-error-no_good_match": "I could not find a matching name in your address book:\n\n%s\nTry " +
		"again with one of these names.",
	"send-success-credits": "You have %d letter credit(s) left. Shall I post the letter?",
	"send-success-direct": "Posting this letter costs a stamp. Pay per letter or buy a bundle, and I " +
		"will send it as soon as the payment arrives:\nSingle letter: %s\n5 letters: %s\n10 letters: %s",
	"send-option-confirm_sending": "✅ Send it",
	"send-option-cancel_sending":  "❌ Not now",

	"send_callback-confirm": "Your letter is on its way! \U0001F4EA",
	"send_callback-cancel":  "Okay, I will keep the draft. Send it any time with /send.",

	"payment-success": "Payment received, your letter is on its way! \U0001F4EA You have %d letter " +
		"credit(s) left.",
	"payment-success-credits": "Payment received! You bought %d letter credit(s) and now have %d.",

	"system-prompt-letter": "You ghost-write letters from transcribed voice memos. Write the letter " +
		"in the language of the transcript. Output only the letter text, no commentary. Keep the " +
		"sender's voice and all factual content. Style instructions from the sender: %s",
	"system-prompt-edit": "You revise letters. Apply the requested changes to the letter and output " +
		"only the revised letter text, no commentary.\n\nLetter:\n%s\n\nRequested changes:\n%s",
}
