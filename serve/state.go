package serve

import (
	"encoding/json"
	"net/http"
)

// StateServer answers with the current status as JSON.
type StateServer struct {
	Updater *StatusUpdater
}

func (s *StateServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	js, err := json.Marshal(s.Updater.Status())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}
