// Package sanitize filters feed markup down to a fixed allow-list and
// extracts plain text from it.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var allowedTags = []string{
	"a", "abbr", "address", "article", "aside", "audio",
	"b", "blockquote", "br",
	"caption", "cite", "code", "col", "colgroup",
	"dd", "del", "dfn", "div", "dl", "dt",
	"em",
	"figcaption", "figure", "footer",
	"header", "hgroup", "h1", "h2", "h3", "h4", "h5", "h6", "hr",
	"i", "img", "ins",
	"label", "li", "link",
	"main", "mark",
	"nav",
	"ol",
	"p", "picture", "pre",
	"q",
	"s", "samp", "section", "small", "source", "span", "strong", "sub", "sup", "svg",
	"table", "tbody", "td", "tfoot", "th", "thead", "time", "tr", "track",
	"u", "ul",
	"video",
	"wbr",
}

var htmlPolicy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(allowedTags...)

	// URL attributes are checked by scheme, the rest by prefix.
	p.AllowAttrs("href", "src").Globally()
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	p.AllowAttrs("alt", "height", "type", "width").Matching(notPrefixed("javascript:")).Globally()

	return p
}

// notPrefixed matches every value that does not start with prefix, ignoring
// case and leading white space. RE2 has no lookahead so the negation is
// spelled out one character at a time.
func notPrefixed(prefix string) *regexp.Regexp {
	expr := ""
	for i := len(prefix) - 1; i >= 0; i-- {
		c := regexp.QuoteMeta(string(prefix[i]))
		class := fmt.Sprintf("[^%s]", c)
		if i == 0 {
			class = fmt.Sprintf(`[^\s%s]`, c)
		}
		if expr == "" {
			expr = fmt.Sprintf("(?:$|%s.*)", class)
			continue
		}
		expr = fmt.Sprintf("(?:$|%s.*|%s%s)", class, c, expr)
	}

	return regexp.MustCompile(`(?is)^\s*` + expr + `$`)
}

// HTML keeps the allow-listed elements and attributes of markup and drops
// everything else. Malformed markup yields whatever could be salvaged.
func HTML(markup string) string {
	return htmlPolicy.Sanitize(markup)
}

// Text returns the concatenated text content of markup.
func Text(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(doc.Find("body").Text())
}
