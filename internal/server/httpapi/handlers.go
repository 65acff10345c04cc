package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/fieldline/casesync/internal/common"
)

// maxTextPayload bounds a case's text payload; attachments travel chunked.
const maxTextPayload = 4 << 20

// maxChunkPayload bounds a single attachment chunk.
const maxChunkPayload = 2 << 20

const (
	statusSuccess = "SUCCESS"
	statusFailure = "FAILURE"

	codeOK                 = "ok"
	codeInvalidCredentials = "invalid_credentials"
	codeRejected           = "rejected"
	codeBadOffset          = "bad_offset"
	codeInternal           = "internal_error"
)

// envelope is the wire response shape. Data is call-specific: a token for
// session creation, an acknowledged offset for chunks, a part page for
// notification polls.
type envelope struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Data   any    `json:"data,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(env)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeEnvelope(w, envelope{Status: statusSuccess, Code: codeOK, Data: data})
}

func writeFailure(w http.ResponseWriter, code string, data any) {
	writeEnvelope(w, envelope{Status: statusFailure, Code: code, Data: data})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleSession exchanges credentials for a session token.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&creds); err != nil {
		writeFailure(w, codeRejected, nil)
		return
	}

	token, err := s.users.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			writeFailure(w, codeInvalidCredentials, nil)
			return
		}
		s.logger.Error(r.Context(), "login failed", "user", creds.Username, "error", err)
		writeFailure(w, codeInternal, nil)
		return
	}
	writeSuccess(w, token)
}

// handleCaseText accepts a case's serialized answer payload.
func (s *Server) handleCaseText(w http.ResponseWriter, r *http.Request) {
	guid := r.PathValue("guid")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxTextPayload))
	if err != nil {
		writeFailure(w, codeRejected, nil)
		return
	}

	if err := s.cases.AcceptText(r.Context(), guid, usernameFrom(r.Context()), payload); err != nil {
		if errors.Is(err, common.ErrContentRejected) {
			writeFailure(w, codeRejected, nil)
			return
		}
		s.logger.Error(r.Context(), "case intake failed", "guid", guid, "error", err)
		writeFailure(w, codeInternal, nil)
		return
	}
	writeSuccess(w, nil)
}

// handleChunk ingests one attachment chunk. The offset query names where the
// chunk starts; size declares the attachment's total length. The envelope
// data carries the server's acknowledged offset, including on bad_offset.
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	guid := r.PathValue("guid")
	elementID := r.PathValue("element")

	offset, offErr := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	total, sizeErr := strconv.ParseInt(r.URL.Query().Get("size"), 10, 64)
	if offErr != nil || sizeErr != nil {
		writeFailure(w, codeRejected, nil)
		return
	}

	chunk, err := io.ReadAll(io.LimitReader(r.Body, maxChunkPayload))
	if err != nil {
		writeFailure(w, codeRejected, nil)
		return
	}

	ack, err := s.cases.AcceptChunk(r.Context(), guid, elementID, offset, total, chunk)
	switch {
	case err == nil:
		writeSuccess(w, ack)
	case errors.Is(err, common.ErrBadChunkOffset):
		writeFailure(w, codeBadOffset, ack)
	case errors.Is(err, common.ErrContentRejected):
		writeFailure(w, codeRejected, nil)
	default:
		s.logger.Error(r.Context(), "chunk intake failed",
			"guid", guid, "element", elementID, "offset", offset, "error", err)
		writeFailure(w, codeInternal, nil)
	}
}

// messagePart is the wire shape of one notification fragment: n = notification
// id, c = case guid, p = patient id, d = "index/total".
type messagePart struct {
	NotificationID string `json:"n"`
	CaseGUID       string `json:"c"`
	PatientID      string `json:"p"`
	Count          string `json:"d"`
	Text           string `json:"text"`
}

// handleNotifications returns the part page after the caller's cursor.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")

	parts, next, err := s.cases.Notifications(r.Context(), cursor)
	if err != nil {
		s.logger.Error(r.Context(), "notification poll failed", "error", err)
		writeFailure(w, codeInternal, nil)
		return
	}

	page := struct {
		Parts []messagePart `json:"parts"`
		Next  string        `json:"next"`
	}{Parts: make([]messagePart, 0, len(parts)), Next: next}

	for _, p := range parts {
		page.Parts = append(page.Parts, messagePart{
			NotificationID: p.NotificationID,
			CaseGUID:       p.CaseGUID,
			PatientID:      p.PatientID,
			Count:          strconv.Itoa(p.Index) + "/" + strconv.Itoa(p.Total),
			Text:           p.Body,
		})
	}
	writeSuccess(w, page)
}
