package serve

import (
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"motioncam/control"
)

// ControlServer applies the command named by the request path, e.g. /nosave.
type ControlServer struct {
	State *control.State
}

func (s *ControlServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	cmd, err := control.ParseCommand(strings.Trim(r.URL.Path, "/"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	resp, err := s.State.Apply(cmd)
	if errors.Is(err, control.ErrUnknownCommand) {
		http.NotFound(w, r)
		return
	} else if err != nil {
		log.WithField("addr", r.RemoteAddr).Errorf("Command %v failed: %v", cmd, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(resp))
}

// Register adds the control endpoints to mux.
func (s *ControlServer) Register(mux *http.ServeMux) {
	for _, c := range []control.Command{control.Start, control.Stop, control.Save, control.NoSave} {
		mux.Handle("/"+c.String(), s)
	}
}
