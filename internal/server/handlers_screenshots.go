package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/autoapply/autoapply/internal/automation"
)

var screenshotContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
}

// handleGetScreenshot serves one managed screenshot by run id and index into
// the run's screenshot list. Every failure mode past a malformed id is a
// plain 404 so the endpoint leaks nothing about what exists on disk.
func (s *Server) handleGetScreenshot(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if !automation.ValidRunID(runID) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	index, ok := parseScreenshotIndex(r.PathValue("index"))
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "Invalid screenshot index")
		return
	}

	run, err := s.service.GetRun(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "Screenshot not found")
		return
	}
	if index >= len(run.Screenshots) {
		s.errorResponse(w, http.StatusNotFound, "Screenshot not found")
		return
	}

	path, err := s.artifacts.ScreenshotPath(runID, run.Screenshots[index])
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "Screenshot not found")
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.errorResponse(w, http.StatusNotFound, "Screenshot not found")
		return
	}

	contentType, ok := screenshotContentTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Screenshot not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, no-store, no-cache")
	http.ServeFile(w, r, path)
}

// parseScreenshotIndex accepts plain decimal digits only. Signs, whitespace,
// and leading zeros beyond "0" are rejected before Atoi ever sees them.
func parseScreenshotIndex(raw string) (int, bool) {
	if raw == "" || (len(raw) > 1 && raw[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return 0, false
		}
	}
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return index, true
}
