package control

import (
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/autobrake/internal/httputil"
	"github.com/banshee-data/autobrake/internal/version"
)

// AttachAdminRoutes registers /debug/status (last tick as JSON) and
// /debug/loop-stats, and adds the build and tick count to the index page.
func (l *Loop) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KV("Build", version.String())
	debug.KVFunc("Ticks", func() any { return l.ticks.Load() })

	debug.HandleFunc("status", "last control tick as JSON", func(w http.ResponseWriter, r *http.Request) {
		if httputil.MethodNotAllowed(w, r, http.MethodGet) {
			return
		}
		st := l.Status()
		if st == nil {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no tick yet")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, st)
	})

	debug.HandleSilentFunc("loop-stats", func(w http.ResponseWriter, r *http.Request) {
		st := l.Stats()
		fmt.Fprintf(w, "control: %d ticks, %d overruns, %d sensor errors, %d link errors\n",
			st.Ticks, st.Overruns, st.SensorErrors, st.LinkErrors)
	})
}
