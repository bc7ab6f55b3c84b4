package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"escrowd/auth"
	"escrowd/evidence"
	"escrowd/room"
	"escrowd/wallet"
	"escrowd/ws"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

// AuthService is the authentication surface the handlers need.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (auth.RegisterResult, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// WalletService reads wallet balances.
type WalletService interface {
	Get(ctx context.Context, userID string) (wallet.Wallet, error)
}

// RoomAPI is the REST-facing slice of the room service.
type RoomAPI interface {
	CreateRoom(ctx context.Context, sellerID string, amount float64) (room.Room, error)
	GetRoom(ctx context.Context, phrase string) (room.Room, error)
	ListRooms(ctx context.Context) ([]room.Summary, error)
	SubmitEvidence(ctx context.Context, phrase, userID string, sub evidence.Submission) (room.Result, error)
}

// Server wires the HTTP surface.
type Server struct {
	auth      AuthService
	wallets   WalletService
	rooms     RoomAPI
	hub       *ws.Hub
	wsHandler http.HandlerFunc
	uploadDir string
	logger    *log.Logger
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/api/register", s.handleRegister)
	r.Post("/api/login", s.handleLogin)
	r.Get("/api/rooms", s.handleListRooms)
	r.Get("/api/rooms/{room_phrase}", s.handleGetRoom)
	r.Get("/api/ws/{room_phrase}/{user_id}", s.wsHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/api/wallet", s.handleWallet)
		r.Post("/api/rooms", s.handleCreateRoom)
		r.Post("/api/rooms/{room_phrase}/evidence", s.handleUploadEvidence)
	})

	return r
}

// requireAuth validates the bearer token and stashes identity in the context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type registerResponse struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	res, err := s.auth.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrDuplicateUsername):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.internalError(w, "register", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:         res.User.ID,
		Username:   res.User.Username,
		Role:       string(res.User.Role),
		PublicKey:  res.User.PublicKey,
		PrivateKey: res.PrivateKey,
	})
}

type loginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	res, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.internalError(w, "login", err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:    res.Token,
		UserID:   res.User.ID,
		Username: res.User.Username,
		Role:     string(res.User.Role),
	})
}

type walletResponse struct {
	UserID  string  `json:"user_id"`
	Balance float64 `json:"balance"`
	Locked  float64 `json:"locked"`
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(ctxKeyUserID).(string)

	wlt, err := s.wallets.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			writeError(w, http.StatusNotFound, "wallet not found")
			return
		}
		s.internalError(w, "wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{UserID: wlt.UserID, Balance: wlt.Balance, Locked: wlt.Locked})
}

type createRoomRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(ctxKeyUserID).(string)
	role := r.Context().Value(ctxKeyRole).(auth.Role)
	if role != auth.RoleSeller {
		writeError(w, http.StatusForbidden, "only sellers open rooms")
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	created, err := s.rooms.CreateRoom(r.Context(), userID, req.Amount)
	if err != nil {
		if errors.Is(err, room.ErrInvalidTransition) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, "create room", err)
		return
	}
	writeJSON(w, http.StatusCreated, created.Snapshot())
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.rooms.ListRooms(r.Context())
	if err != nil {
		s.internalError(w, "list rooms", err)
		return
	}
	if rooms == nil {
		rooms = []room.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rooms, "total": len(rooms)})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	phrase := chi.URLParam(r, "room_phrase")

	found, err := s.rooms.GetRoom(r.Context(), phrase)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		s.internalError(w, "get room", err)
		return
	}
	writeJSON(w, http.StatusOK, found.Snapshot())
}

const maxUploadBytes = 32 << 20

// handleUploadEvidence stores the file under the room's upload directory and
// records the submission. Re-uploading an evidence type replaces the earlier
// file reference.
func (s *Server) handleUploadEvidence(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(ctxKeyUserID).(string)
	phrase := chi.URLParam(r, "room_phrase")

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	evidenceType := r.FormValue("evidence_type")
	if evidenceType == "" {
		writeError(w, http.StatusBadRequest, "evidence_type is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	dir := filepath.Join(s.uploadDir, phrase)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.internalError(w, "upload dir", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s", evidenceType, filename))
	dst, err := os.Create(path)
	if err != nil {
		s.internalError(w, "store upload", err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		s.internalError(w, "store upload", err)
		return
	}
	dst.Close()

	sub := evidence.Submission{
		EvidenceType: evidenceType,
		Filename:     filename,
		Path:         path,
		SubmittedAt:  time.Now().UTC(),
	}
	res, err := s.rooms.SubmitEvidence(r.Context(), phrase, userID, sub)
	if err != nil {
		os.Remove(path)
		switch {
		case errors.Is(err, room.ErrNotFound):
			writeError(w, http.StatusNotFound, "room not found")
		case errors.Is(err, room.ErrUnauthorizedParty):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, room.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.internalError(w, "submit evidence", err)
		}
		return
	}

	if s.hub != nil {
		s.hub.Publish(phrase, res)
	}
	writeJSON(w, http.StatusOK, res.Snapshot)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Printf("api: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
