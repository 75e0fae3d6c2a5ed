package handlers

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/3leaps/gosweep/internal/errors"
	"github.com/3leaps/gosweep/pkg/campaign"
	"github.com/3leaps/gosweep/pkg/status"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Groups serves status of the campaign tree under Root.
type Groups struct {
	Root   string
	Logger *zap.Logger
}

// GroupsResponse is the body of the group listing.
type GroupsResponse struct {
	Root   string               `json:"root"`
	Groups []status.GroupReport `json:"groups"`
}

// GroupDetail is one group with its per-run records.
type GroupDetail struct {
	*status.GroupReport
	Runs status.Document `json:"runs,omitempty"`
}

// ReturnCodesResponse lists the return codes of a group.
type ReturnCodesResponse struct {
	Group       string              `json:"group"`
	ReturnCodes []status.ReturnCode `json:"return_codes"`
}

func (h *Groups) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// List handles GET /v1/groups?user=a,b&group=x.
func (h *Groups) List(w http.ResponseWriter, r *http.Request) {
	filter := status.Filter{
		Users:  queryList(r, "user"),
		Groups: queryList(r, "group"),
	}
	reports, err := status.Scan(h.Root, filter)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			respondWithError(w, r, apperrors.NewNotFoundError("campaign directory not found"))
			return
		}
		h.logger().Error("scan campaign", zap.String("root", h.Root), zap.Error(err))
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "scan campaign"))
		return
	}
	if reports == nil {
		reports = []status.GroupReport{}
	}
	writeJSON(w, http.StatusOK, GroupsResponse{Root: h.Root, Groups: reports})
}

// Get handles GET /v1/groups/{user}/{group}.
func (h *Groups) Get(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.inspect(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, GroupDetail{GroupReport: rep, Runs: rep.Runs})
}

// ReturnCodes handles GET /v1/groups/{user}/{group}/return-codes?run=a,b.
func (h *Groups) ReturnCodes(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.inspect(w, r)
	if !ok {
		return
	}
	codes := status.ReturnCodes(rep.Runs, queryList(r, "run"))
	if codes == nil {
		codes = []status.ReturnCode{}
	}
	writeJSON(w, http.StatusOK, ReturnCodesResponse{Group: rep.Name(), ReturnCodes: codes})
}

// Log handles GET /v1/groups/{user}/{group}/log?level=warn&run=a. The
// filtered executor log is returned as plain text.
func (h *Groups) Log(w http.ResponseWriter, r *http.Request) {
	min := zapcore.DebugLevel
	if name := r.URL.Query().Get("level"); name != "" {
		lvl, err := status.ParseLevel(name)
		if err != nil {
			respondWithError(w, r, apperrors.NewInvalidArgumentError(err.Error()))
			return
		}
		min = lvl
	}

	dir, ok := h.groupDir(w, r)
	if !ok {
		return
	}
	f, err := os.Open(filepath.Join(dir, campaign.ExecutorLog))
	if err != nil {
		if os.IsNotExist(err) {
			respondWithError(w, r, apperrors.NewNotFoundError("executor log not found"))
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "open executor log"))
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := status.FilterLog(f, w, min, queryList(r, "run")); err != nil {
		h.logger().Warn("stream executor log", zap.String("dir", dir), zap.Error(err))
	}
}

func (h *Groups) groupDir(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, group := chi.URLParam(r, "user"), chi.URLParam(r, "group")
	if !validName(user) || !validName(group) {
		respondWithError(w, r, apperrors.NewInvalidArgumentError("invalid user or group name"))
		return "", false
	}
	dir := filepath.Join(h.Root, user, group)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		respondWithError(w, r, apperrors.NewNotFoundError(fmt.Sprintf("group %s/%s not found", user, group)))
		return "", false
	}
	return dir, true
}

func (h *Groups) inspect(w http.ResponseWriter, r *http.Request) (*status.GroupReport, bool) {
	dir, ok := h.groupDir(w, r)
	if !ok {
		return nil, false
	}
	rep, err := status.InspectGroup(dir)
	if err != nil {
		if errors.Is(err, status.ErrMalformedStatus) {
			respondWithError(w, r, apperrors.NewExternalServiceError("status document is malformed").
				WithDetails(map[string]any{"group": rep.Name(), "lifecycle": rep.Lifecycle}))
			return nil, false
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "inspect group"))
		return nil, false
	}
	return rep, true
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// queryList collects a parameter given repeatedly or comma separated.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
