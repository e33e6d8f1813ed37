package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"

	"github.com/squidcore/acquisition/internal/bus"
	"tailscale.com/tsweb"
)

// CommandHandler dispatches an operator-issued debug command (e.g. "stop",
// "disable-joystick") with its string arguments to whatever controller the
// caller wires up. AttachAdminRoutes works with any handler or none.
type CommandHandler func(command string, args map[string]string) error

var sendCommandTemplate = template.Must(template.New("send-command").Parse(`<!DOCTYPE html>
<html><body>
<h1>Send acquisition command</h1>
<form method="POST" action="send-command-api">
  <input type="text" name="command" placeholder="command, e.g. stop">
  <input type="text" name="args" placeholder="key=value,key2=value2">
  <button type="submit">Send</button>
</form>
</body></html>`))

// AttachAdminRoutes wires the tracker into the process's debug mux: a JSON
// status route, an SSE tail of every event the tracker understands, and
// (when handler is non-nil) a command-injection form, grounded on
// internal/serialmux.SerialMux.AttachAdminRoutes's send-command/tail pair.
func (t *Tracker) AttachAdminRoutes(mux *http.ServeMux, handler CommandHandler) {
	debug := tsweb.Debugger(mux)

	debug.Handle("status", "Current acquisition progress snapshot (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(t.Snapshot()); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode snapshot: %v", err), http.StatusInternalServerError)
		}
	}))

	debug.Handle("dashboard", "Scan coverage / region progress / mode timeline dashboard", http.HandlerFunc(t.handleDashboard))

	debug.HandleSilentFunc("tail", t.handleTail)

	if handler != nil {
		debug.HandleFunc("send-command", "send a command to the acquisition controller", func(w http.ResponseWriter, r *http.Request) {
			buf := bytes.NewBuffer(nil)
			if err := sendCommandTemplate.Execute(buf, nil); err != nil {
				http.Error(w, "failed to render template", http.StatusInternalServerError)
				return
			}
			io.Copy(w, buf)
		})

		debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			command := strings.TrimSpace(r.FormValue("command"))
			if command == "" {
				http.Error(w, "missing command", http.StatusBadRequest)
				return
			}
			args := parseArgs(r.FormValue("args"))
			if err := handler(command, args); err != nil {
				http.Error(w, fmt.Sprintf("command failed: %v", err), http.StatusInternalServerError)
				return
			}
			io.WriteString(w, fmt.Sprintf("command %q accepted", command))
		})
	}
}

// parseArgs parses a "key=value,key2=value2" argument string, the same
// shape an operator types into the send-command form.
func parseArgs(raw string) map[string]string {
	args := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		args[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return args
}

// handleTail streams every tracked bus event as Server-Sent Events, the
// same wire shape as internal/serialmux's "tail" route: an initial ping
// comment, then one "data: <json>\n\n" frame per event.
func (t *Tracker) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	tail := make(chan []byte, 64)
	ids := make(map[string]int, len(eventTypes))
	for _, eventType := range eventTypes {
		et := eventType
		ids[et] = t.b.Subscribe(et, func(e bus.Event) error {
			payload, err := json.Marshal(tailFrame{Type: et, Event: e})
			if err != nil {
				return err
			}
			select {
			case tail <- payload:
			default:
				// Slow reader: drop rather than block event dispatch.
			}
			return nil
		})
	}
	defer func() {
		for et, id := range ids {
			t.b.Unsubscribe(et, id)
		}
	}()

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case payload := <-tail:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// tailFrame is the JSON envelope each SSE frame carries: the dispatch key
// alongside the raw event, so a client can branch on Type without
// reflecting on Event's concrete Go type.
type tailFrame struct {
	Type  string    `json:"type"`
	Event bus.Event `json:"event"`
}
