package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jdholdren/skim/internal/engine"
	skimerrs "github.com/jdholdren/skim/internal/errors"
	"github.com/jdholdren/skim/internal/fetch"
	"github.com/jdholdren/skim/internal/format"
	"github.com/jdholdren/skim/internal/opml"
	"github.com/jdholdren/skim/internal/serverutil"
	"github.com/jdholdren/skim/internal/skim"
)

type FeedResp struct {
	ID            int64      `json:"id"`
	FeedURL       string     `json:"feed_url"`
	HomePageURL   string     `json:"home_page_url"`
	Title         string     `json:"title"`
	LastLoadTime  *time.Time `json:"last_load_time"`
	LastFetchTime *time.Time `json:"last_fetch_time"`
}

func apiFeed(f skim.Feed) FeedResp {
	resp := FeedResp{
		ID:          f.ID,
		FeedURL:     f.FeedURL,
		HomePageURL: f.HomePageURL,
		Title:       f.Title,
	}
	if !f.LastLoadTime.IsZero() {
		resp.LastLoadTime = &f.LastLoadTime
	}
	if !f.LastFetchTime.IsZero() {
		resp.LastFetchTime = &f.LastFetchTime
	}

	return resp
}

func (s Server) getFeeds(w http.ResponseWriter, r *http.Request) error {
	feeds, err := s.engine.Feeds(r.Context())
	if err != nil {
		return err
	}

	resp := make([]FeedResp, 0, len(feeds))
	for _, f := range feeds {
		resp = append(resp, apiFeed(f))
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

type PostFeedReq struct {
	FeedURL string `json:"feed_url"`
}

func (req PostFeedReq) Validate() error {
	if req.FeedURL == "" {
		return skimerrs.E("feed_url is required", http.StatusBadRequest, skimerrs.Detail{Field: "feed_url", Error: "missing"})
	}
	if !format.IsAbsoluteURL(req.FeedURL) {
		return skimerrs.E("feed_url must be an http(s) url", http.StatusBadRequest, skimerrs.Detail{Field: "feed_url", Error: "invalid"})
	}

	return nil
}

// postFeeds starts a subscription. The outcome arrives on the event stream.
func (s Server) postFeeds(w http.ResponseWriter, r *http.Request) error {
	req, err := serverutil.DecodeValid[PostFeedReq](r.Body)
	if err != nil {
		return err
	}

	err = s.engine.Subscribe(r.Context(), strings.TrimSpace(req.FeedURL))
	if errors.Is(err, engine.ErrInvalidURL) {
		return skimerrs.E(err, http.StatusBadRequest)
	}
	if err != nil {
		return err
	}

	w.WriteHeader(http.StatusAccepted)
	return nil
}

func (s Server) deleteFeed(w http.ResponseWriter, r *http.Request) error {
	id, err := strconv.ParseInt(mux.Vars(r)["feedID"], 10, 64)
	if err != nil {
		return skimerrs.E("invalid feed id", http.StatusBadRequest)
	}
	if err := s.engine.Unsubscribe(r.Context(), id); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

type StashResp struct {
	Handle string `json:"handle"`
}

func (s Server) postStash(w http.ResponseWriter, r *http.Request) error {
	handle, err := s.engine.SaveFeeds(r.Context())
	if errors.Is(err, fetch.ErrNotRelayed) {
		return skimerrs.E(err, http.StatusConflict)
	}
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, StashResp{Handle: handle})
}

type ImportResp struct {
	Added int `json:"added"`
}

func (s Server) postUnstash(w http.ResponseWriter, r *http.Request) error {
	added, err := s.engine.RestoreFeeds(r.Context(), mux.Vars(r)["handle"])
	if errors.Is(err, fetch.ErrNotRelayed) {
		return skimerrs.E(err, http.StatusConflict)
	}
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, ImportResp{Added: added})
}

func (s Server) getOPML(w http.ResponseWriter, r *http.Request) error {
	feeds, err := s.engine.Feeds(r.Context())
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/x-opml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="skim.opml"`)
	return opml.Export(w, "skim subscriptions", feeds, s.now())
}

// postOPML imports subscriptions, either as the raw body or as the "opml"
// file of a form upload.
func (s Server) postOPML(w http.ResponseWriter, r *http.Request) error {
	var body io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		file, _, err := r.FormFile("opml")
		if err != nil {
			return skimerrs.E("no opml file provided", http.StatusBadRequest)
		}
		defer file.Close()
		body = file
	}

	feeds, err := opml.Parse(body)
	if err != nil {
		return skimerrs.E(err, http.StatusBadRequest)
	}
	added, err := s.engine.ImportFeeds(r.Context(), feeds)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, ImportResp{Added: added})
}
