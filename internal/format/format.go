// Package format turns JSON Feed, RSS 2.0 and Atom payloads into one
// normalized shape.
package format

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
)

// Format is one of the supported wire formats.
type Format int

const (
	Unknown Format = iota
	JSON
	RSS2
	Atom
)

var ErrUnknownFormat = errors.New("unknown feed format")

func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case RSS2:
		return "rss2"
	case Atom:
		return "atom"
	default:
		return "unknown"
	}
}

type (
	// Meta is the feed level information of a document.
	Meta struct {
		Title       string
		HomePageURL string
	}

	// Entry is a raw, unsanitized item of a document. Published is zero
	// when the entry carried no parseable date.
	Entry struct {
		Title       string
		URL         string
		ContentHTML string
		ImageURL    string
		Tags        []string
		Published   time.Time
	}

	// Document is a parsed feed of any format.
	Document interface {
		FeedMeta() Meta
		// Entries in document order.
		Entries() []Entry
	}
)

// Parse decodes r as f.
func (f Format) Parse(r io.Reader) (Document, error) {
	switch f {
	case JSON:
		doc, err := parseJSON(r)
		if err != nil {
			return nil, err
		}
		return doc, nil
	case RSS2:
		doc, err := parseRSS(r)
		if err != nil {
			return nil, err
		}
		return doc, nil
	case Atom:
		doc, err := parseAtom(r)
		if err != nil {
			return nil, err
		}
		return doc, nil
	default:
		return nil, ErrUnknownFormat
	}
}

// Content types accepted when fetching a feed. The generic XML types need a
// look at the body to tell RSS from Atom.
var mimeFormats = map[string]Format{
	"application/json":      JSON,
	"application/feed+json": JSON,
	"application/atom+xml":  Atom,
	"application/rss+xml":   RSS2,
	"application/x-rss+xml": RSS2,
	"application/xml":       Unknown,
	"text/xml":              Unknown,
}

// Content types trusted on <link rel="alternate"> elements.
var strictMIMEFormats = map[string]Format{
	"application/feed+json": JSON,
	"application/atom+xml":  Atom,
	"application/rss+xml":   RSS2,
}

// Default feed file names of static site generators.
var wellKnownNames = map[string]Format{
	"feed.json":  JSON,
	"index.json": JSON,
	"rss.xml":    RSS2,
	"rss2.xml":   RSS2,
	"atom.xml":   Atom,
	"index.xml":  Unknown,
	"index.rss":  RSS2,
	"index.rss2": RSS2,
	"index.atom": Atom,
	"feed.xml":   Unknown,
	"feed.rss":   RSS2,
	"feed.rss2":  RSS2,
	"feed.atom":  Atom,
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}

	return mt
}

// Detect picks the format of a fetched body from its content type, falling
// back to sniffing the body for generic or missing types. HTML is never a
// feed and yields Unknown.
func Detect(contentType string, body []byte) Format {
	mt := mediaType(contentType)
	if IsHTML(contentType) {
		return Unknown
	}
	if f, ok := mimeFormats[mt]; ok && f != Unknown {
		return f
	}

	return Sniff(body)
}

// Sniff guesses the format from the payload alone.
func Sniff(body []byte) Format {
	switch gofeed.DetectFeedType(bytes.NewReader(body)) {
	case gofeed.FeedTypeJSON:
		return JSON
	case gofeed.FeedTypeRSS:
		return RSS2
	case gofeed.FeedTypeAtom:
		return Atom
	default:
		return Unknown
	}
}

// IsHTML reports whether contentType is an HTML page worth scanning for
// feed links.
func IsHTML(contentType string) bool {
	mt := mediaType(contentType)
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// FromStrictMIME maps the type attribute of a feed link element.
func FromStrictMIME(contentType string) Format {
	return strictMIMEFormats[mediaType(contentType)]
}

// FromName maps a well-known feed file name. The bool is false when the
// name is not a feed name at all; the format may still be Unknown for
// names that carry either XML flavor.
func FromName(p string) (Format, bool) {
	f, ok := wellKnownNames[strings.ToLower(path.Base(p))]
	return f, ok
}

// parseDate is lenient about the many date layouts feeds use in practice.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}
	}

	return t
}

// IsAbsoluteURL reports whether raw is an absolute http(s) URL.
func IsAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return u.IsAbs() && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
}

func wrapText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	return fmt.Sprintf("<p>%s</p>", text)
}
