package adaptor

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdr.dev/slog/v3"

	"github.com/ponyo877/collab/server/domain"
)

type httpHandler struct {
	logger slog.Logger
	uc     Usecase
}

// NewHTTPHandler routes the websocket endpoint, the read-only room queries
// and the operational endpoints.
func NewHTTPHandler(logger slog.Logger, uc Usecase, ws http.Handler, gatherer prometheus.Gatherer) http.Handler {
	h := &httpHandler{logger: logger.Named("http"), uc: uc}

	r := mux.NewRouter()
	r.Handle("/ws", ws).Methods(http.MethodGet)
	r.HandleFunc("/rooms", h.listRooms).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}/participants", h.listParticipants).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func (h *httpHandler) listRooms(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]any{"rooms": h.uc.ListActiveRooms()})
}

func (h *httpHandler) listParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.uc.ListParticipants(mux.Vars(r)["roomID"])
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"participants": participants})
}

func (h *httpHandler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  h.uc.Stats(),
	})
}

func (h *httpHandler) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	h.writeJSON(w, r, status, domain.ErrorData{
		Code:    domain.ErrorCode(err),
		Message: err.Error(),
	})
}

func (h *httpHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug(r.Context(), "write response", slog.Error(err))
	}
}
