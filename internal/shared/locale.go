package shared

import "golang.org/x/text/language"

// Lang selects the display language for user-facing text.
type Lang string

const (
	// LangArabic is the default display language.
	LangArabic Lang = "ar"
	// LangEnglish is used when the caller prefers English.
	LangEnglish Lang = "en"
)

// Text holds a bilingual user-facing string.
type Text struct {
	Ar string `json:"ar,omitempty"`
	En string `json:"en,omitempty"`
}

// In returns the text in the requested language, falling back to the
// other language when one side is empty.
func (t Text) In(lang Lang) string {
	if lang == LangEnglish {
		if t.En != "" {
			return t.En
		}
		return t.Ar
	}
	if t.Ar != "" {
		return t.Ar
	}
	return t.En
}

// IsZero reports whether both sides are empty.
func (t Text) IsZero() bool { return t.Ar == "" && t.En == "" }

var langMatcher = language.NewMatcher([]language.Tag{
	language.Arabic,
	language.English,
})

// MatchLang resolves an Accept-Language header to a supported language.
// Unparseable or missing headers fall back to Arabic.
func MatchLang(acceptLanguage string) Lang {
	if acceptLanguage == "" {
		return LangArabic
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return LangArabic
	}
	tag, _, _ := langMatcher.Match(tags...)
	if base, _ := tag.Base(); base.String() == "en" {
		return LangEnglish
	}
	return LangArabic
}
