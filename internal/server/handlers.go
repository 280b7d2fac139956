package server

import (
	"encoding/json"
	"net/http"
	"strings"

	sketcherrors "github.com/tinkerbench/sketch/internal/errors"
	"github.com/tinkerbench/sketch/internal/ops"
	"github.com/tinkerbench/sketch/internal/vfs"
)

// maxBodyBytes bounds API request bodies. Project imports of any real
// size fit comfortably; this guards against runaway payloads.
const maxBodyBytes = 32 << 20

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	result, ok := s.pipeline.Current()
	if !ok {
		result = s.pipeline.RunOnce(r.Context())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	// The document runs arbitrary project code; keep it off the parent
	// origin's storage and frames.
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'self'")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write([]byte(result.Document))
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	module, ok := s.pipeline.Module(r.URL.Path)
	if !ok {
		// Handles from superseded runs are gone on purpose; the reload
		// push has already pointed the client at fresh ones.
		http.Error(w, "module not found or superseded", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(module.Code))
}

type treeEntry struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
	Size int    `json:"size,omitempty"`
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	var entries []treeEntry
	for _, path := range s.tree.Paths() {
		if path == "/" {
			continue
		}
		info, ok := s.tree.Stat(path)
		if !ok {
			continue
		}
		entry := treeEntry{Path: path, Kind: info.Kind.String()}
		if info.Kind == vfs.KindFile {
			entry.Size = len(info.Content)
		}
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"revision": s.tree.Revision(),
		"entries":  entries,
	})
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/file")
	content, ok := s.tree.ReadFile(path)
	if !ok {
		writeError(w, sketcherrors.ErrFileNotFound(path))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(content))
}

type opsResponse struct {
	Applied  int    `json:"applied"`
	Revision uint64 `json:"revision"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	var operations []ops.Op
	if err := decodeJSON(r, &operations); err != nil {
		writeJSON(w, http.StatusBadRequest, opsResponse{Error: err.Error()})
		return
	}

	applied, err := ops.ApplyAll(s.tree, operations)
	response := opsResponse{Applied: applied, Revision: s.tree.Revision()}
	if err != nil {
		response.Error = err.Error()
		var se *sketcherrors.SketchError
		if sketcherrors.As(err, &se) {
			response.Code = se.Code
		}
		writeJSON(w, statusFor(err), response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleExportProject(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tree.Serialize())
}

func (s *Server) handleImportProject(w http.ResponseWriter, r *http.Request) {
	var serialized vfs.Serialized
	if err := decodeJSON(r, &serialized); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.tree.Load(serialized); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": s.tree.Revision()})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	infos, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": infos})
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	name := r.PathValue("name")
	if err := s.store.Save(r.Context(), name, s.tree); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "revision": s.tree.Revision()})
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	name := r.PathValue("name")
	if err := s.store.Restore(r.Context(), name, s.tree); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "revision": s.tree.Revision()})
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.store.Delete(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":   "ok",
		"revision": s.tree.Revision(),
		"clients":  s.hub.count(),
	}
	if result, ok := s.pipeline.Current(); ok {
		status["run_id"] = result.RunID
		status["failures"] = len(result.Failures)
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			map[string]string{"error": "snapshot store is not configured"})
		return false
	}
	return true
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	var se *sketcherrors.SketchError
	if sketcherrors.As(err, &se) {
		body["code"] = se.Code
		body["type"] = string(se.Type)
	}
	writeJSON(w, statusFor(err), body)
}

func statusFor(err error) int {
	switch {
	case sketcherrors.IsNotFound(err):
		return http.StatusNotFound
	case sketcherrors.IsConflict(err):
		return http.StatusConflict
	case sketcherrors.IsInvalidOp(err):
		return http.StatusUnprocessableEntity
	case sketcherrors.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
