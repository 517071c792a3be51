package rewriter

import "strings"

const (
	FirstNameTag      = "*|FIRSTNAME|*"
	LastNameTag       = "*|LASTNAME|*"
	PreferencesURLTag = "*|PREFERENCES_URL|*"

	DefaultFirstName = "John"
	DefaultLastName  = "Doe"
)

// Recipient supplies merge tag values. A nil Recipient renders as John Doe.
type Recipient struct {
	FirstName      string
	LastName       string
	PreferencesURL string
}

// MergeTags substitutes merge tags in text. A scheme typed in front of the
// preferences tag is consumed so the expanded URL is never double prefixed.
func MergeTags(text string, r *Recipient) string {
	if !strings.Contains(text, "*|") {
		return text
	}

	first, last, prefs := DefaultFirstName, DefaultLastName, ""
	if r != nil {
		if r.FirstName != "" || r.LastName != "" {
			first, last = r.FirstName, r.LastName
		}
		prefs = r.PreferencesURL
	}

	return strings.NewReplacer(
		"https://"+PreferencesURLTag, prefs,
		"http://"+PreferencesURLTag, prefs,
		PreferencesURLTag, prefs,
		FirstNameTag, first,
		LastNameTag, last,
	).Replace(text)
}
