package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luciancaetano/wsclient"
)

type statusResponse struct {
	ID               string `json:"id"`
	State            string `json:"state"`
	URL              string `json:"url"`
	LastResponseCode int    `json:"lastResponseCode"`
	Pending          int    `json:"pending"`
}

// newStatusRouter serves the client state and its metrics
func newStatusRouter(client wsclient.Client, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if client.State() != wsclient.StateOpen {
			http.Error(w, client.State().String(), http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		pending, err := client.PendingLen(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusResponse{
			ID:               client.ID(),
			State:            client.State().String(),
			URL:              client.URL(),
			LastResponseCode: client.LastResponseCode(),
			Pending:          pending,
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
