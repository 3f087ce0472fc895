package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rbright/mirkobo/internal/host"
	"github.com/rbright/mirkobo/internal/transform"
)

// Clicker forwards a pointer position to the device.
type Clicker interface {
	Click(ctx context.Context, raw transform.Point, area transform.Size) error
}

// ClickRequest is the POST /click body: the pointer position and the size
// of the area the frame was rendered into.
type ClickRequest struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Routes registers the viewer routes on r.
func (v *Viewer) Routes(clicker Clicker) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", v.handleIndex)
		r.Get("/screen", v.handleScreen)
		r.Get("/state", v.handleState)
		r.Post("/click", v.handleClick(clicker))
	}
}

func (v *Viewer) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (v *Viewer) handleScreen(w http.ResponseWriter, _ *http.Request) {
	frame, ok := v.Frame()
	if !ok {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(frame))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(frame)
}

func (v *Viewer) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (v *Viewer) handleClick(clicker Clicker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ClickRequest
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "decode click: " + err.Error()})
			return
		}

		err := clicker.Click(r.Context(),
			transform.Point{X: req.X, Y: req.Y},
			transform.Size{Width: req.Width, Height: req.Height},
		)
		if err != nil {
			writeJSON(w, clickStatus(err), errorResponse{Error: err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func clickStatus(err error) int {
	switch {
	case errors.Is(err, host.ErrInvalidArea):
		return http.StatusBadRequest
	case errors.Is(err, host.ErrNoPeer), errors.Is(err, host.ErrDisplaySizeUnknown):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>mirkobo</title>
<style>
body { margin: 0; background: #222; display: flex; justify-content: center; }
img { max-height: 100vh; max-width: 100vw; cursor: crosshair; }
</style>
</head>
<body>
<img id="screen" alt="waiting for device">
<script>
const img = document.getElementById("screen");
function refresh() {
  const next = new Image();
  next.onload = () => { img.src = next.src; setTimeout(refresh, 500); };
  next.onerror = () => setTimeout(refresh, 1000);
  next.src = "/screen?t=" + Date.now();
}
img.addEventListener("click", (ev) => {
  const rect = img.getBoundingClientRect();
  fetch("/click", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({x: ev.clientX - rect.left, y: ev.clientY - rect.top, width: rect.width, height: rect.height}),
  });
});
refresh();
</script>
</body>
</html>
`
