// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import (
	"encoding/json"
	"net/http"
)

// StatusHandler returns an http.Handler serving this replica's StatusSnapshot
// as JSON on every request, analogous to the original's
// status::status_provider_base HTTP registration. It is read-only and safe
// to mount on any path.
func (r *Replica) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.Status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
