package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes wires the registry into the process's debug mux: a
// tailsql endpoint for ad-hoc SQL against the experiments table, and a JSON
// listing of recent runs for the operator dashboard.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("registry: create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://registry.db", s.DB, &tailsql.DBOptions{
		Label: "Experiment registry",
	})
	debug.Handle("tailsql/", "SQL live debugging of the experiment registry", tsql.NewMux())

	debug.Handle("registry-recent", "Most recently started experiments (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recent, err := s.Recent(100)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to list recent experiments: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(recent); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode recent experiments: %v", err), http.StatusInternalServerError)
		}
	}))
}
