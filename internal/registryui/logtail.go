package registryui

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"sentryfleet/internal/registrystore"
)

// upgrader uses fixed buffer sizes; origin check is left permissive since
// the socket is already same-origin-cookie-gated.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleRunLogTail streams a run's run.log artifact to the browser as it
// grows, closing once the run reaches a terminal status and no further
// artifact writes appear. Runs that never produce a run.log (most passing
// runs) close immediately after reporting that no output was captured.
func (s *Server) handleRunLogTail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, test, err := s.runForTenant(r, id)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logPath := filepath.Join(s.ArtifactsDir, test.TenantID, test.ID, run.ID, "run.log")
	ticker := time.NewTicker(s.logPollPeriod())
	defer ticker.Stop()

	var offset int64
	sentAny := false
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		n, lines, readErr := readNewLines(logPath, offset)
		offset = n
		for _, line := range lines {
			sentAny = true
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		}
		if readErr != nil && !os.IsNotExist(readErr) {
			return
		}

		current, err := s.Store.GetRun(r.Context(), run.ID)
		if err != nil {
			return
		}
		if current.Status != registrystore.RunStatusInfraDegraded || current.ErrorKind != "pending" {
			if !sentAny {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("(no log output captured for this run)"))
			}
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
			return
		}
	}
}

// readNewLines reads the lines appended to path since offset, including a
// last line that has no trailing newline, and returns the offset advanced by
// each line's length plus one for its newline. A missing file is reported
// via the error but is not fatal to the caller's poll loop.
func readNewLines(path string, offset int64) (int64, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, nil, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	read := offset
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		read += int64(len(scanner.Bytes())) + 1
	}
	return read, lines, nil
}
