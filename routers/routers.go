package routers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stitchbot/stitchbot/handlers"
)

// RegisterRoutes sets up the status API and the peer endpoint
func RegisterRoutes(r *mux.Router, h *handlers.Handler, peers http.Handler) {

	// Window size, stress figures and stitch counters of the running agent
	r.HandleFunc("/status", h.GetStatus).Methods("GET")

	// Stitch ledger, newest first
	r.HandleFunc("/stitches", h.ListStitches).Methods("GET")
	r.HandleFunc("/stitches/{id}", h.GetStitch).Methods("GET")

	// Websocket upgrade for stitch gossip
	if peers != nil {
		r.Handle("/p2p", peers)
	}
}
