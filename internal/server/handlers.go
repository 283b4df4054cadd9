package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/zombor/receipt-extractor/internal/dataset"
)

// maxUploadSize is 50MB to handle high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// handleUpload stores an image in the directory the next batch reads
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(s.extensions, ext) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type %q", ext))
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	name := fmt.Sprintf("%s_%s", s.idGen.Generate(), sanitizeFilename(header.Filename))
	saved, err := s.storage.Save(name, data)
	if err != nil {
		slog.Error("Error saving upload", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error saving file")
		return
	}

	slog.Info("Stored upload", "filename", saved, "size", len(data))
	writeJSON(w, http.StatusCreated, map[string]any{
		"filename": saved,
		"size":     len(data),
	})
}

// handleCreateRun runs a batch over the uploads and returns its history entry
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	// the batch finishes even if the client goes away
	result, err := s.RunBatch(context.WithoutCancel(r.Context()))
	if errors.Is(err, ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		slog.Error("Error running batch", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, result.Run(nil))
}

// handleListRuns returns all runs, most recent first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.history.ListRuns()
	if err != nil {
		slog.Error("Error listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns a single run
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.history.GetRun(r.PathValue("id"))
	if errors.Is(err, dataset.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		slog.Error("Error getting run", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleListReceipts returns every processed receipt
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.ListReceipts()
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if t := r.URL.Query().Get("transaction_type"); t != "" {
		filtered := records[:0:0]
		for _, record := range records {
			if strings.EqualFold(string(record.TransactionType), t) {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetReceipt returns a single receipt by receipt number
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	record, err := s.history.GetReceipt(r.PathValue("id"))
	if errors.Is(err, dataset.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Receipt not found")
		return
	}
	if err != nil {
		slog.Error("Error getting receipt", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
