package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whisper2/broker/internal/apperror"
	"github.com/whisper2/broker/internal/middleware"
	"github.com/whisper2/broker/internal/whisperid"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[httpapi] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	e := apperror.As(err)
	writeJSON(w, e.Code.HTTPStatus(), map[string]string{"code": string(e.Code), "message": e.Message})
}

// handleGetKeys is the one place a third party resolves whisperId ->
// public keys, per spec §4.2 (used for fetching a recipient's identity
// key before a first message is ever sent).
func (s *Server) handleGetKeys(w http.ResponseWriter, r *http.Request) {
	whisperID := mux.Vars(r)["whisperId"]
	if err := whisperid.Validate(whisperID); err != nil {
		writeError(w, apperror.New(apperror.InvalidPayload, err.Error()))
		return
	}
	identity, err := s.sessions.GetIdentity(whisperID)
	if err != nil {
		writeError(w, apperror.New(apperror.NotFound, "identity not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"whisperId":     identity.WhisperID,
		"encPublicKey":  base64.StdEncoding.EncodeToString(identity.EncPublicKey),
		"signPublicKey": base64.StdEncoding.EncodeToString(identity.SignPublicKey),
	})
}

type backupRequest struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// handlePutBackup implements the encrypted contacts-backup blob (spec §3
// supplement): an opaque, caller-encrypted snapshot the server stores and
// returns unread.
func (s *Server) handlePutBackup(w http.ResponseWriter, r *http.Request) {
	whisperID, _ := middleware.WhisperIDFromContext(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, apperror.New(apperror.InvalidPayload, "failed to read body"))
		return
	}
	var req backupRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Nonce == "" || req.Ciphertext == "" {
		writeError(w, apperror.New(apperror.InvalidPayload, "nonce and ciphertext are required"))
		return
	}
	created, err := s.store.PutBackup(whisperID, req.Nonce, req.Ciphertext)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.Internal, "failed to store backup", err))
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"created": created})
}

func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	whisperID, _ := middleware.WhisperIDFromContext(r.Context())
	nonce, ciphertext, err := s.store.GetBackup(whisperID)
	if err != nil {
		writeError(w, apperror.New(apperror.NotFound, "no backup found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"nonce": nonce, "ciphertext": ciphertext})
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	whisperID, _ := middleware.WhisperIDFromContext(r.Context())
	if err := s.store.DeleteBackup(whisperID); err != nil {
		writeError(w, apperror.Wrap(apperror.Internal, "failed to delete backup", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type presignUploadRequest struct {
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

func (s *Server) handlePresignUpload(w http.ResponseWriter, r *http.Request) {
	whisperID, _ := middleware.WhisperIDFromContext(r.Context())
	var req presignUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.InvalidPayload, "malformed request body"))
		return
	}
	result, err := s.attach.PresignUpload(r.Context(), whisperID, req.ContentType, req.SizeBytes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type presignDownloadRequest struct {
	ObjectKey string `json:"objectKey"`
}

func (s *Server) handlePresignDownload(w http.ResponseWriter, r *http.Request) {
	whisperID, _ := middleware.WhisperIDFromContext(r.Context())
	var req presignDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.InvalidPayload, "malformed request body"))
		return
	}
	result, err := s.attach.PresignDownload(r.Context(), whisperID, req.ObjectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAdminGC triggers an out-of-band attachment GC sweep. In
// production this is also run on a schedule by cmd/scheduler; exposing it
// here lets an operator force a run without waiting for the next tick.
func (s *Server) handleAdminGC(w http.ResponseWriter, r *http.Request) {
	attachments, grants, err := s.attach.RunGC(r.Context())
	if err != nil {
		writeError(w, apperror.Wrap(apperror.Internal, "gc failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"attachmentsDeleted": attachments, "grantsDeleted": grants})
}
