package api

import (
	"net/http"
	"strings"

	"github.com/duckmesh/querygrid/internal/auth"
	"github.com/duckmesh/querygrid/internal/storage"
)

type connectionView struct {
	Name    string `json:"name"`
	Dialect string `json:"dialect"`
	Kind    string `json:"kind"`
}

func handleListConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Queries == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query service is not configured", false, nil)
		return
	}
	identity, scoped := auth.IdentityFromContext(r.Context())

	views := make([]connectionView, 0)
	for _, conn := range deps.Queries.List() {
		if scoped && !identity.CanAccess(conn.Name) {
			continue
		}
		views = append(views, connectionView{
			Name:    conn.Name,
			Dialect: conn.Dialect,
			Kind:    string(conn.Adapter.Kind()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": views})
}

func handleConnect(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	name, ok := connectionFromPath(deps, w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	if err := deps.Queries.Connect(r.Context(), name); err != nil {
		writeQueryError(r.Context(), w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": name, "status": "connected"})
}

func handleListFiles(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	name, ok := connectionFromPath(deps, w, r, auth.RoleFilesReader)
	if !ok {
		return
	}
	prefix := r.URL.Query().Get("prefix")
	files, err := deps.Queries.ListFiles(r.Context(), name, prefix)
	if err != nil {
		writeQueryError(r.Context(), w, name, err)
		return
	}
	if files == nil {
		files = []storage.ObjectInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": name, "prefix": prefix, "files": files})
}

func handleStorage(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	name, ok := connectionFromPath(deps, w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	raw, err := deps.Queries.Storage(r.Context(), name)
	if err != nil {
		writeQueryError(r.Context(), w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": name, "storage": raw})
}

func connectionFromPath(deps Dependencies, w http.ResponseWriter, r *http.Request, role string) (string, bool) {
	if deps.Queries == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query service is not configured", false, nil)
		return "", false
	}
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "connection name is required", false, nil)
		return "", false
	}
	if err := authorize(r, name, role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return "", false
	}
	return name, true
}
