package transcription

import "regexp"

// regionSuffix matches a trailing hyphenated region subtag. Underscore forms
// such as "zh_CN" are left alone.
var regionSuffix = regexp.MustCompile(`-[^_]+$`)

// StripRegion reduces a language tag to the code sent in the transcribe request:
// "en-US" becomes "en", "en" and "zh_CN" are unchanged.
func StripRegion(language string) string {
	return regionSuffix.ReplaceAllString(language, "")
}
