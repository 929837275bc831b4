// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/pulseroom/pulseroom/wire"
)

// identityHeader carries the caller's user id. Real deployments put
// an authenticating proxy in front of the authority; the reference
// implementation trusts the header (or the "user" query parameter
// for websocket clients that cannot set headers).
const identityHeader = "X-Pulseroom-User"

// Server exposes the Authority over HTTP: a websocket endpoint for
// the realtime session protocol and a plain request/response API for
// the non-realtime collaborators (create session, snapshot fetch,
// CPU statistics, apply-delay access).
type Server struct {
	authority *Authority
	logger    *slog.Logger
	router    *mux.Router
	upgrader  websocket.Upgrader
}

// NewServer builds the HTTP handler around an Authority.
func NewServer(authority *Authority, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		authority: authority,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/connect", s.handleConnect).Methods(http.MethodGet)
	router.HandleFunc("/v1/sessions", s.handleCreateSession).Methods(http.MethodPost)
	router.HandleFunc("/v1/sessions/{id}", s.handleSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/v1/sessions/{id}/delay", s.handleGetDelay).Methods(http.MethodGet)
	router.HandleFunc("/v1/sessions/{id}/delay", s.handleSetDelay).Methods(http.MethodPut)
	router.HandleFunc("/v1/stats", s.handleStats).Methods(http.MethodGet)
	s.router = router
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// identity extracts the caller's user id from the request.
func identity(r *http.Request) string {
	if user := r.Header.Get(identityHeader); user != "" {
		return user
	}
	return r.URL.Query().Get("user")
}

// handleConnect upgrades to the realtime session protocol and runs
// the connection until it drops.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	userID := identity(r)
	if userID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	member := NewMember(userID)
	s.logger.Info("client connected", "user_id", userID, "remote", conn.RemoteAddr())

	go s.writePump(conn, member)
	s.readPump(r.Context(), conn, member)

	s.authority.Disconnect(member)
	conn.Close()
	s.logger.Info("client disconnected", "user_id", userID)
}

// readPump decodes and dispatches request envelopes until the
// connection fails.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, member *Member) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope wire.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			s.logger.Warn("discarding malformed envelope", "user_id", member.UserID, "error", err)
			continue
		}
		s.dispatch(ctx, envelope, member)
	}
}

// writePump drains the member's broadcast queue onto the socket. The
// queue channel is closed when the member is dropped or disconnects.
func (s *Server) writePump(conn *websocket.Conn, member *Member) {
	for envelope := range member.Send {
		encoded, err := json.Marshal(envelope)
		if err != nil {
			s.logger.Error("encoding outbound envelope", "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
			conn.Close()
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// dispatch applies one request and queues the ack. The ack goes
// through the same send queue as broadcasts, which keeps the
// authority's receipt order visible to the member.
func (s *Server) dispatch(ctx context.Context, envelope wire.Envelope, member *Member) {
	var ack wire.Ack

	switch envelope.Kind {
	case wire.KindJoin:
		var request wire.JoinRequest
		if err := envelope.DecodePayload(&request); err != nil {
			ack = nackFromError(err)
			break
		}
		snapshot, err := s.authority.Join(ctx, request.SessionID, member)
		if err != nil {
			ack = nackFromError(err)
			break
		}
		ack = wire.Ack{Success: true, Snapshot: &snapshot}

	case wire.KindLeave:
		var request wire.LeaveRequest
		if err := envelope.DecodePayload(&request); err != nil {
			ack = nackFromError(err)
			break
		}
		if err := s.authority.Leave(ctx, request.SessionID, member); err != nil {
			ack = nackFromError(err)
			break
		}
		ack = wire.Ack{Success: true}

	case wire.KindPushDraft:
		var request wire.PushDraftRequest
		if err := envelope.DecodePayload(&request); err != nil {
			ack = nackFromError(err)
			break
		}
		ack = ackFromError(s.authority.PushDraft(ctx, request, member.UserID))

	case wire.KindPublish:
		var request wire.PublishRequest
		if err := envelope.DecodePayload(&request); err != nil {
			ack = nackFromError(err)
			break
		}
		ack = ackFromError(s.authority.Publish(ctx, request, member.UserID))

	case wire.KindOverrideMaster:
		var request wire.OverrideMasterRequest
		if err := envelope.DecodePayload(&request); err != nil {
			ack = nackFromError(err)
			break
		}
		ack = ackFromError(s.authority.OverrideMaster(ctx, request, member.UserID))

	case wire.KindSetDelay:
		var request wire.SetDelayRequest
		if err := envelope.DecodePayload(&request); err != nil {
			ack = nackFromError(err)
			break
		}
		ack = ackFromError(s.authority.SetDelay(ctx, request, member.UserID))

	default:
		ack = wire.Ack{
			Success:   false,
			Error:     "unknown request kind " + string(envelope.Kind),
			ErrorCode: wire.CodeRequestRejected,
		}
	}

	response, err := wire.NewEnvelope(wire.KindAck, envelope.CorrelationID, ack)
	if err != nil {
		s.logger.Error("encoding ack", "error", err)
		return
	}
	select {
	case member.Send <- response:
	default:
		// The member's queue is saturated; the broadcast path will
		// drop it shortly. Nothing useful to do with the ack.
		s.logger.Warn("ack dropped for stalled member", "user_id", member.UserID)
	}
}

// ackFromError folds a nil-or-error result into an ack.
func ackFromError(err error) wire.Ack {
	if err == nil {
		return wire.Ack{Success: true}
	}
	return nackFromError(err)
}

func nackFromError(err error) wire.Ack {
	var wireErr *wire.Error
	if errors.As(err, &wireErr) {
		return wire.Ack{Success: false, Error: wireErr.Message, ErrorCode: wireErr.Code}
	}
	return wire.Ack{Success: false, Error: err.Error(), ErrorCode: wire.CodeRequestRejected}
}

// createSessionRequest is the HTTP create-session body.
type createSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var request createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	session, err := s.authority.CreateSession(r.Context(), request.Title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") != ""
	session, err := s.authority.Snapshot(r.Context(), mux.Vars(r)["id"], refresh)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

// delayResponse is the HTTP apply-delay payload, both directions.
type delayResponse struct {
	ApplyDelayMs int `json:"apply_delay_ms"`
}

func (s *Server) handleGetDelay(w http.ResponseWriter, r *http.Request) {
	delayMs, err := s.authority.ApplyDelay(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, delayResponse{ApplyDelayMs: delayMs})
}

func (s *Server) handleSetDelay(w http.ResponseWriter, r *http.Request) {
	userID := identity(r)
	var request delayResponse
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	err := s.authority.SetDelay(r.Context(), wire.SetDelayRequest{
		SessionID:    mux.Vars(r)["id"],
		ApplyDelayMs: request.ApplyDelayMs,
	}, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, delayResponse{ApplyDelayMs: request.ApplyDelayMs})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"cpu_samples": s.authority.CPUWindow(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

// writeError maps the protocol error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := wire.CodeRequestRejected
	var wireErr *wire.Error
	if errors.As(err, &wireErr) {
		code = wireErr.Code
		switch wireErr.Code {
		case wire.CodeNotFound:
			status = http.StatusNotFound
		case wire.CodeUnauthorized:
			status = http.StatusForbidden
		case wire.CodeInvalidArgument:
			status = http.StatusBadRequest
		default:
			status = http.StatusUnprocessableEntity
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload, _ := json.Marshal(map[string]string{
		"error":      err.Error(),
		"error_code": string(code),
	})
	w.Write(payload)
}
