package serve

import (
	"net/http"
)

const menu = `<!DOCTYPE html>
<html>
<head><title>Motion camera</title></head>
<body>
<h1>Motion camera</h1>
<ul>
<li><a href="/feed">Live feed</a></li>
<li><a href="/start">Start capturing</a></li>
<li><a href="/stop">Stop capturing</a></li>
<li><a href="/save">Save motion videos</a></li>
<li><a href="/nosave">Do not save motion videos</a></li>
<li><a href="/state">Current state</a></li>
<li><a href="/metrics">Metrics</a></li>
</ul>
</body>
</html>
`

// Menu serves the index page. Every other path not claimed by another
// handler is a 404.
func Menu(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(menu))
}
