// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "errors"

// ErrNoProgress is returned when diagnosis finds nothing actionable: no
// pending byte range, no pending deferred bundle, and no recognisable
// missing-file pattern in the log (§4.4 Bounds).
var ErrNoProgress = errors.New("orchestrator: no progress possible, compile failed")

// ErrRetriesExhausted is returned when MAX_RETRIES attempts have run
// without success (§4.4 Bounds).
var ErrRetriesExhausted = errors.New("orchestrator: retry limit reached")

// IsUnrecoverable reports whether err represents a terminal orchestrator
// failure rather than a transient fetch error a caller might retry at a
// higher level.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrNoProgress) || errors.Is(err, ErrRetriesExhausted)
}
