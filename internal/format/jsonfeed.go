package format

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strings"
)

type (
	// JSONFeed is a JSON Feed document. The relay answers every fetch with
	// the same shape, adding Error when the origin could not be read.
	JSONFeed struct {
		Version     string     `json:"version,omitempty"`
		Title       string     `json:"title"`
		HomePageURL string     `json:"home_page_url"`
		FeedURL     string     `json:"feed_url"`
		Items       []JSONItem `json:"items"`
		Error       string     `json:"error,omitempty"`
	}

	JSONItem struct {
		URL           string           `json:"url"`
		ExternalURL   string           `json:"external_url,omitempty"`
		Title         string           `json:"title"`
		ContentHTML   string           `json:"content_html,omitempty"`
		ContentText   string           `json:"content_text,omitempty"`
		Summary       string           `json:"summary,omitempty"`
		Image         string           `json:"image,omitempty"`
		BannerImage   string           `json:"banner_image,omitempty"`
		DatePublished string           `json:"date_published"`
		DateModified  string           `json:"date_modified,omitempty"`
		Tags          []string         `json:"tags,omitempty"`
		Attachments   []JSONAttachment `json:"attachments,omitempty"`
	}

	JSONAttachment struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
)

func parseJSON(r io.Reader) (JSONFeed, error) {
	var f JSONFeed
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return JSONFeed{}, fmt.Errorf("error decoding json feed: %w", err)
	}

	return f, nil
}

func (f JSONFeed) FeedMeta() Meta {
	return Meta{
		Title:       f.Title,
		HomePageURL: f.HomePageURL,
	}
}

func (f JSONFeed) Entries() []Entry {
	entries := make([]Entry, 0, len(f.Items))
	for _, it := range f.Items {
		entries = append(entries, it.entry())
	}

	return entries
}

func (it JSONItem) entry() Entry {
	e := Entry{
		Title:       it.Title,
		URL:         it.URL,
		ContentHTML: it.ContentHTML,
		ImageURL:    it.Image,
		Tags:        it.Tags,
		Published:   parseDate(it.DatePublished),
	}
	if e.ContentHTML == "" {
		e.ContentHTML = wrapText(html.EscapeString(it.ContentText))
	}
	if e.ImageURL == "" {
		for _, a := range it.Attachments {
			if strings.HasPrefix(a.MimeType, "image/") {
				e.ImageURL = a.URL
				break
			}
		}
	}

	return e
}
