package api

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"gisengine/internal/engine"
	xerrors "gisengine/internal/errors"
	"gisengine/internal/run"
	"gisengine/pkg/component"
	"gisengine/pkg/plugin"
)

const maxBodyBytes = 8 << 20

// decodeDefinition reads a workflow body as YAML when the content type says
// so and as JSON otherwise.
func decodeDefinition(r *http.Request) (engine.Definition, error) {
	format := engine.FormatJSON
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && strings.Contains(mt, "yaml") {
		format = engine.FormatYAML
	}
	def, err := engine.Decode(io.LimitReader(r.Body, maxBodyBytes), format)
	if err != nil {
		return def, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid workflow body")
	}
	return def, nil
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeUnavailable, "engine not initialised")
		return
	}
	def, err := decodeDefinition(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var opts []engine.RunOption
	if id := strings.TrimSpace(r.URL.Query().Get("run_id")); id != "" {
		opts = append(opts, engine.WithRunID(id))
	}
	result := s.executor.Execute(r.Context(), def, opts...)
	if !result.Success {
		s.logger.Info("workflow failed",
			slog.String("run_id", result.RunID),
			slog.String("code", string(result.ErrorCode)),
			slog.String("failed_node", result.FailedNode))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeUnavailable, "run service disabled")
		return
	}
	var req run.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	created, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/runs/"+created.ID)
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeUnavailable, "run service disabled")
		return
	}
	found, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeUnavailable, "run service disabled")
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	runs, err := s.runs.List(r.Context(), opts...)
	if err != nil {
		writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []*run.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeUnavailable, "run service disabled")
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	stats, err := s.runs.Stats(r.Context(), opts...)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// listOptions parses status, q, component, limit, offset, order and has_result.
func listOptions(r *http.Request) ([]run.ListOption, error) {
	q := r.URL.Query()
	var opts []run.ListOption
	if raw := q.Get("status"); raw != "" {
		var statuses []run.Status
		for _, part := range strings.Split(raw, ",") {
			st := run.Status(strings.ToLower(strings.TrimSpace(part)))
			if !st.Valid() {
				return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown status %q", part)
			}
			statuses = append(statuses, st)
		}
		opts = append(opts, run.WithStatuses(statuses...))
	}
	for _, p := range []struct {
		key string
		opt func(int) run.ListOption
	}{{"limit", run.WithLimit}, {"offset", run.WithOffset}} {
		raw := q.Get(p.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid %s %q", p.key, raw)
		}
		opts = append(opts, p.opt(n))
	}
	if raw := q.Get("has_result"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid has_result %q", raw)
		}
		opts = append(opts, run.WithResultPresence(b))
	}
	if strings.EqualFold(q.Get("order"), "asc") {
		opts = append(opts, run.WithSortOrder(run.SortByUpdatedAsc))
	}
	if query := q.Get("q"); query != "" {
		opts = append(opts, run.WithQuery(query))
	}
	if id := q.Get("component"); id != "" {
		opts = append(opts, run.WithComponent(id))
	}
	return opts, nil
}

func (s *Server) handleListComponents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids := s.registry.List()
	if query := strings.TrimSpace(q.Get("q")); query != "" {
		ids = intersect(ids, s.registry.Search(query))
	}
	if category := q.Get("category"); category != "" {
		ids = intersect(ids, s.registry.ListByCategory(category))
	}
	if raw := q.Get("type"); raw != "" {
		t, err := component.ParseType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, err.Error())
			return
		}
		ids = intersect(ids, s.registry.ListByType(t))
	}
	sort.Strings(ids)
	out := make([]component.Metadata, 0, len(ids))
	for _, id := range ids {
		if meta, ok := s.registry.Metadata(id); ok {
			out = append(out, meta)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"components": out,
		"categories": s.registry.Categories(),
	})
}

type componentDetail struct {
	Metadata   component.Metadata        `json:"metadata"`
	Parameters []component.ParameterSpec `json:"parameters"`
}

func (s *Server) handleGetComponent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, ok := s.registry.New(id)
	if !ok {
		writeError(w, http.StatusNotFound, engine.CodeComponentNotFound, "component "+id+" is not registered")
		return
	}
	params := c.Parameters()
	if params == nil {
		params = []component.ParameterSpec{}
	}
	writeJSON(w, http.StatusOK, componentDetail{Metadata: c.Metadata(), Parameters: params})
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	entries := []plugin.Entry{}
	if s.plugins != nil {
		entries = append(entries, s.plugins.LoadedEntries()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "components": s.registry.Len()}
	if s.bus != nil {
		body["event_streams"] = s.bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, body)
}

func intersect(ids, keep []string) []string {
	set := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		set[id] = struct{}{}
	}
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
