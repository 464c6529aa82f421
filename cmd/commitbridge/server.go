// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/julienschmidt/httprouter"
)

// newAdminServer serves the metrics and read-only chain tips.
func newAdminServer(addr string, metrics http.Handler, store api.LogStore) *http.Server {
	router := httprouter.New()
	router.Handler(http.MethodGet, "/metrics", metrics)
	router.GET("/tip/:author", tipHandler(store))

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func tipHandler(store api.LogStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tip, err := store.GetLatest(ps.ByName("author"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if tip == nil {
			http.Error(w, "author has no entries", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tip)
	}
}
