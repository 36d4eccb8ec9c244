package routes

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/kabili207/mesh-relay-node/pkg/meshtastic"
	"github.com/kabili207/mesh-relay-node/pkg/models"
	"github.com/kabili207/mesh-relay-node/pkg/router"
)

// NodeDirectory is the read side of the node db.
type NodeDirectory interface {
	SelfNode() models.MyNodeInfo
	Nodes() []models.NodeInfo
	Peek(num uint32) (models.NodeInfo, bool)
	Len() int
	Evictions() uint64
}

// PacketLedger is the part of the packet history the API exposes.
type PacketLedger interface {
	Len() int
	Capacity() int
	FloodTimeout() time.Duration
	ClearExpired() int
}

type StatsSource interface {
	Stats() router.Stats
}

type ClientLister interface {
	Clients() []models.ClientDetails
}

// WebRouter serves the read-only status API. Clients may be nil when the
// embedded broker is disabled.
type WebRouter struct {
	NodeDB         NodeDirectory
	History        PacketLedger
	Router         StatsSource
	Clients        ClientLister
	ClientNotifier *ClientNotifier
}

type HistoryStatus struct {
	Records      int    `json:"records"`
	Capacity     int    `json:"capacity"`
	FloodTimeout string `json:"flood_timeout"`
}

type SweepResult struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

type NodesResponse struct {
	Count     int               `json:"count"`
	Evictions uint64            `json:"evictions"`
	Nodes     []models.NodeInfo `json:"nodes"`
}

// Handler builds the mux with the request logger and panic recovery applied.
func (wr *WebRouter) Handler() http.Handler {
	if wr.ClientNotifier == nil {
		wr.ClientNotifier = NewClientNotifier()
	}

	myRouter := mux.NewRouter().StrictSlash(true)

	myRouter.HandleFunc("/api/node", wr.getSelfNode).Methods("GET")
	myRouter.HandleFunc("/api/nodes", wr.getNodes).Methods("GET")
	myRouter.HandleFunc("/api/nodes/{id}", wr.getNode).Methods("GET")
	myRouter.HandleFunc("/api/history", wr.getHistory).Methods("GET")
	myRouter.HandleFunc("/api/history/sweep", wr.sweepHistory).Methods("POST")
	myRouter.HandleFunc("/api/stats", wr.getStats).Methods("GET")
	myRouter.HandleFunc("/api/clients", wr.getClients).Methods("GET")
	myRouter.HandleFunc("/api/events", wr.statsSSE).Methods("GET")

	myRouter.Use(handlers.ProxyHeaders)
	myRouter.Use(RequestLogger)
	h := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))

	return h(myRouter)
}

func RequestLogger(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("endpoint hit", "method", r.Method, "path", r.URL.Path, "remote_host", r.RemoteAddr, "user_agent", r.UserAgent())
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func (wr *WebRouter) getSelfNode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wr.NodeDB.SelfNode())
}

func (wr *WebRouter) getNodes(w http.ResponseWriter, r *http.Request) {
	nodes := wr.NodeDB.Nodes()
	writeJSON(w, http.StatusOK, NodesResponse{
		Count:     len(nodes),
		Evictions: wr.NodeDB.Evictions(),
		Nodes:     nodes,
	})
}

// getNode does not count as a use of the node, so polling the API does not
// change which node is evicted next.
func (wr *WebRouter) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := meshtastic.ParseNodeID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	node, ok := wr.NodeDB.Peek(uint32(id))
	if !ok {
		http.Error(w, "Node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (wr *WebRouter) historyStatus() HistoryStatus {
	return HistoryStatus{
		Records:      wr.History.Len(),
		Capacity:     wr.History.Capacity(),
		FloodTimeout: wr.History.FloodTimeout().String(),
	}
}

func (wr *WebRouter) getHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wr.historyStatus())
}

func (wr *WebRouter) sweepHistory(w http.ResponseWriter, r *http.Request) {
	removed := wr.History.ClearExpired()
	slog.Info("history swept", "removed", removed)
	writeJSON(w, http.StatusOK, SweepResult{Removed: removed, Remaining: wr.History.Len()})
}

func (wr *WebRouter) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wr.Router.Stats())
}

func (wr *WebRouter) getClients(w http.ResponseWriter, r *http.Request) {
	if wr.Clients == nil {
		writeJSON(w, http.StatusOK, []models.ClientDetails{})
		return
	}
	writeJSON(w, http.StatusOK, wr.Clients.Clients())
}
