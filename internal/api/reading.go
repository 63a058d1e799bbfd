package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jdholdren/skim/internal/engine"
	skimerrs "github.com/jdholdren/skim/internal/errors"
	"github.com/jdholdren/skim/internal/serverutil"
	"github.com/jdholdren/skim/internal/skim"
)

func (s Server) getState(w http.ResponseWriter, r *http.Request) error {
	state, err := s.engine.Snapshot(r.Context())
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, state)
}

// MoveResp reports whether a cursor move or delete changed anything, with
// the state after it.
type MoveResp struct {
	Changed bool            `json:"changed"`
	State   engine.Snapshot `json:"state"`
}

func (s Server) postForward(w http.ResponseWriter, r *http.Request) error {
	return s.move(w, r, s.engine.Forward)
}

func (s Server) postBackward(w http.ResponseWriter, r *http.Request) error {
	return s.move(w, r, s.engine.Backward)
}

func (s Server) deleteCurrentItem(w http.ResponseWriter, r *http.Request) error {
	return s.move(w, r, s.engine.DeleteItem)
}

func (s Server) move(w http.ResponseWriter, r *http.Request, op func(ctx context.Context) (bool, error)) error {
	ctx := r.Context()
	changed, err := op(ctx)
	if err != nil {
		return err
	}
	state, err := s.engine.Snapshot(ctx)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, MoveResp{Changed: changed, State: state})
}

// The new content arrives on the event stream.
func (s Server) postRefresh(w http.ResponseWriter, r *http.Request) error {
	if err := s.engine.RefreshItem(r.Context()); err != nil {
		return err
	}

	w.WriteHeader(http.StatusAccepted)
	return nil
}

type PutItemContentReq struct {
	ContentHTML string `json:"content_html"`
}

func (req PutItemContentReq) Validate() error {
	return nil
}

// putItemContent replaces an item's content, sanitized by the engine.
func (s Server) putItemContent(w http.ResponseWriter, r *http.Request) error {
	id, err := strconv.ParseInt(mux.Vars(r)["itemID"], 10, 64)
	if err != nil {
		return skimerrs.E("invalid item id", http.StatusBadRequest)
	}
	req, err := serverutil.DecodeValid[PutItemContentReq](r.Body)
	if err != nil {
		return err
	}
	if err := s.engine.UpdateItemText(r.Context(), id, req.ContentHTML); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s Server) postAck(w http.ResponseWriter, r *http.Request) error {
	if err := s.engine.Reauthorize(r.Context()); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s Server) postShutdown(w http.ResponseWriter, r *http.Request) error {
	if err := s.engine.Shutdown(r.Context(), skim.LevelInfo, "Shutdown requested"); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s Server) postClear(w http.ResponseWriter, r *http.Request) error {
	if err := s.engine.ClearData(r.Context()); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
