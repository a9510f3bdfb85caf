// Package server exposes health, read-only state, the command endpoint and
// the Telegram webhook over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"sma-trading-bot/internal/control"
	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/types"
)

var errUnauthorized = errors.New("missing or invalid bearer token")

// CallbackAnswerer acknowledges inline-button presses.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID string) error
}

type Config struct {
	Addr          string
	WebhookSecret string
	ChatID        string
	// CommandToken guards the routes that change trading state. When empty
	// those routes answer 401.
	CommandToken string
}

type Server struct {
	cfg      Config
	eng      interfaces.Engine
	ctl      *control.Controller
	answerer CallbackAnswerer

	httpServer *http.Server
	listener   net.Listener
}

func New(cfg Config, eng interfaces.Engine, ctl *control.Controller, answerer CallbackAnswerer) *Server {
	s := &Server{cfg: cfg, eng: eng, ctl: ctl, answerer: answerer}
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	router := mux.NewRouter().UseEncodedPath()
	router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	router.Handle("/positions/{symbol}/{direction}", s.requireToken(http.HandlerFunc(s.handleClosePosition))).Methods(http.MethodDelete)
	router.Handle("/command", s.requireToken(http.HandlerFunc(s.handleCommand))).Methods(http.MethodPost)
	router.HandleFunc("/telegram/webhook", s.handleTelegram).Methods(http.MethodPost)
	return router
}

// requireToken checks "Authorization: Bearer <token>" against CommandToken.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || s.cfg.CommandToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.CommandToken)) != 1 {
			logger.Warn(r.Context(), "Rejected unauthenticated control request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Bearer realm="bot"`)
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Serve listens on cfg.Addr and blocks until Shutdown.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	logger.Info(context.Background(), "HTTP server listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Trading bot is up"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.eng.Running()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Stats())
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	ps := s.eng.Positions()
	if ps == nil {
		ps = []types.Position{}
	}
	writeJSON(w, http.StatusOK, ps)
}

// handleClosePosition closes one position by hand. The symbol is path
// escaped, so DOGE/USDT arrives as DOGE%2FUSDT.
func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol, err := url.PathUnescape(vars["symbol"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dir, err := types.ParseDirection(vars["direction"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := s.eng.ClosePosition(r.Context(), types.PositionKey{Instrument: symbol, Direction: dir}, types.ReasonManual)
	switch {
	case errors.Is(err, types.ErrPositionNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, types.ErrPositionBusy):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reply, err := s.ctl.Handle(r.Context(), req.Command)
	resp := commandResponse{Reply: reply}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusUnprocessableEntity
		if errors.Is(err, control.ErrNotRecognized) {
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, resp)
}

type telegramUpdate struct {
	Message *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
	CallbackQuery *struct {
		ID      string `json:"id"`
		Data    string `json:"data"`
		Message *struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

// handleTelegram always answers 200 once the secret checks out, otherwise
// Telegram keeps redelivering the update.
func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
	if s.cfg.WebhookSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var upd telegramUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&upd); err != nil {
		logger.WarnWithErr(r.Context(), "Bad Telegram update", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	text, chatID := "", int64(0)
	switch {
	case upd.CallbackQuery != nil:
		text = upd.CallbackQuery.Data
		if upd.CallbackQuery.Message != nil {
			chatID = upd.CallbackQuery.Message.Chat.ID
		}
		if s.answerer != nil {
			if err := s.answerer.AnswerCallback(r.Context(), upd.CallbackQuery.ID); err != nil {
				logger.WarnWithErr(r.Context(), "Failed to answer callback", err)
			}
		}
	case upd.Message != nil:
		text, chatID = upd.Message.Text, upd.Message.Chat.ID
	}

	if text == "" || !s.allowedChat(chatID) {
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = s.ctl.Handle(r.Context(), text)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) allowedChat(id int64) bool {
	if s.cfg.ChatID == "" {
		return true
	}
	return strconv.FormatInt(id, 10) == s.cfg.ChatID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
