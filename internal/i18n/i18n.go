package i18n

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// LangParam is the query parameter used to select a language.
const LangParam = "lang"

// Message keys for visitor-facing copy. Raw error text is never shown to a
// visitor; one of these is used instead.
const (
	KeyApology           = "fallback.apology"
	KeySendFailed        = "fallback.send_failed"
	KeyGeneric           = "fallback.generic"
	KeySessionClosed     = "fallback.session_closed"
	KeyInvalidInput      = "fallback.invalid_input"
	KeySupportOnline     = "notice.support_online"
	KeySupportOffline    = "notice.support_offline"
	KeyDeliveryExhausted = "notice.delivery_exhausted"
	KeyEmergencyRaised   = "notice.emergency_raised"
	KeySessionTimedOut   = "notice.session_timed_out"
)

var supportedTags = []language.Tag{
	language.English,
	language.Burmese,
}

var tagMatcher = language.NewMatcher(supportedTags)

// Default returns the default language tag.
func Default() language.Tag {
	return language.English
}

// Parse resolves a stored locale string to a supported tag
func Parse(locale string) language.Tag {
	if strings.TrimSpace(locale) == "" {
		return Default()
	}
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return Default()
	}
	tag, _, _ := tagMatcher.Match(tags...)
	base, _ := tag.Base()
	for _, supported := range supportedTags {
		if sb, _ := supported.Base(); sb == base {
			return supported
		}
	}
	return Default()
}

// ResolveTag picks the best language for the request: the lang query
// parameter first, then Accept-Language.
func ResolveTag(r *http.Request) language.Tag {
	if r == nil {
		return Default()
	}
	if lang := strings.TrimSpace(r.URL.Query().Get(LangParam)); lang != "" {
		return Parse(lang)
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		return Parse(accept)
	}
	return Default()
}

// Text renders key in the given language
func Text(tag language.Tag, key string, args ...interface{}) string {
	return message.NewPrinter(tag).Sprintf(key, args...)
}

// TextFor renders key in the language stored on a session
func TextFor(locale, key string, args ...interface{}) string {
	return Text(Parse(locale), key, args...)
}
