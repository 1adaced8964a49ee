package domain

import (
	"net/url"
	"regexp"
	"strings"
)

// ValidateURL checks that raw is an absolute http or https URL with a host
// and returns it trimmed.
func ValidateURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &ValidationError{Field: "url", Reason: "must not be empty"}
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", &ValidationError{Field: "url", Reason: "not a valid URL"}
	}
	if !u.IsAbs() {
		return "", &ValidationError{Field: "url", Reason: "must be absolute"}
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}

	if u.Hostname() == "" {
		return "", &ValidationError{Field: "url", Reason: "missing host"}
	}

	return s, nil
}

var (
	// Closed tags only: an unterminated "<" is plain text in HTML content.
	htmlTagPattern      = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9-]*(?:[\s/][^>]*)?>`)
	htmlMarkupPattern   = regexp.MustCompile(`<[!?][^>]*>`)
	jsSchemePattern     = regexp.MustCompile(`(?i)j\s*a\s*v\s*a\s*s\s*c\s*r\s*i\s*p\s*t\s*:`)
	eventHandlerPattern = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
)

// htmlElements are the tag names stripped from titles. Other names, such as
// the T in "List<T>", are kept as text. Custom elements (a dash in the name)
// are always stripped.
var htmlElements = toSet(`a abbr acronym address applet area article aside audio b base basefont
	bdi bdo bgsound big blink blockquote body br button canvas caption center cite code col
	colgroup data datalist dd del details dfn dialog dir div dl dt em embed fieldset figcaption
	figure font footer form frame frameset h1 h2 h3 h4 h5 h6 head header hgroup hr html i
	iframe image img input ins isindex kbd keygen label legend li link listing main map mark
	marquee math menu menuitem meta meter nav nobr noembed noframes noscript object ol optgroup
	option output p param picture plaintext portal pre progress q rb rp rt rtc ruby s samp
	script search section select slot small source span strike strong style sub summary sup
	svg table tbody td template textarea tfoot th thead time title tr track tt u ul var video
	wbr xmp animate animatemotion animatetransform circle defs ellipse foreignobject g line
	mpath path polygon polyline rect set stop text tspan use`)

func toSet(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}

func stripElement(tag string) string {
	name := strings.TrimLeft(tag, "</")
	if i := strings.IndexAny(name, " \t\r\n\f/>"); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	if htmlElements[name] || strings.Contains(name, "-") {
		return ""
	}
	return tag
}

// SanitizeTitle strips HTML tags, comments, javascript: schemes and inline
// event-handler attributes, then trims surrounding whitespace. Removal
// repeats until the title is stable so nested fragments cannot reassemble a
// pattern.
func SanitizeTitle(title string) string {
	s := title
	for {
		next := htmlTagPattern.ReplaceAllStringFunc(s, stripElement)
		next = htmlMarkupPattern.ReplaceAllString(next, "")
		next = jsSchemePattern.ReplaceAllString(next, "")
		next = eventHandlerPattern.ReplaceAllString(next, "")
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimSpace(s)
}

// NormalizeTitle sanitizes title and falls back to url when nothing is left.
func NormalizeTitle(title, url string) string {
	if t := SanitizeTitle(title); t != "" {
		return t
	}
	return url
}
