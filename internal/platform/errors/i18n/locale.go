package i18n

import (
	"strings"

	"golang.org/x/text/language"
)

// NegotiateLocale picks the best registered locale for an Accept-Language
// header value. Unparseable or empty headers resolve to BaseLocale.
func NegotiateLocale(acceptLanguage string) string {
	acceptLanguage = strings.TrimSpace(acceptLanguage)
	if acceptLanguage == "" {
		return BaseLocale
	}
	requested, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(requested) == 0 {
		return BaseLocale
	}

	locales := Locales()
	supported := make([]language.Tag, 0, len(locales))
	for _, locale := range locales {
		supported = append(supported, language.Make(locale))
	}
	_, index, confidence := language.NewMatcher(supported).Match(requested...)
	if confidence == language.No || index < 0 || index >= len(locales) {
		return BaseLocale
	}
	return locales[index]
}
