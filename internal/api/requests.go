// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package api

import (
	"net/http"
	"strconv"

	"github.com/tomtom215/eventfold/internal/validation"
)

// JobsRequest holds the query parameters of GET /api/v1/jobs.
type JobsRequest struct {
	Source string `json:"source" validate:"omitempty,max=100"`
	Status string `json:"status" validate:"omitempty,oneof=RUNNING SUCCESS ERROR"`
	Limit  int    `json:"limit" validate:"min=1,max=500"`
}

// DeadLettersRequest holds the query parameters of the dead-letter listing.
type DeadLettersRequest struct {
	Limit int `json:"limit" validate:"min=1,max=1000"`
}

// PathID validates an id taken from the URL path.
type PathID struct {
	ID string `json:"id" validate:"required,max=128"`
}

// intParam parses an integer query parameter. A value that is present but
// not a number is reported through ok=false so validation can reject it.
func intParam(r *http.Request, key string, defaultValue int) (value int, ok bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// validateRequest validates v and writes the 400 response when it fails.
func validateRequest(rw *ResponseWriter, v any) bool {
	if verr := validation.ValidateStruct(v); verr != nil {
		rw.ValidationError(verr.Error(), verr.Details())
		return false
	}
	return true
}
