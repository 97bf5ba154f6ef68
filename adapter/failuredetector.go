// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"sync"
	"time"
)

// HeartbeatDetector is a reference NodeFailureDetector: it fires onFailure
// whenever Reset hasn't been called within timeout, matching spec.md
// section 5's "heartbeat timer" design note. The replica core calls Reset
// on every PRE-PREPARE it accepts from the current primary.
type HeartbeatDetector struct {
	mu      sync.Mutex
	timeout time.Duration
	timer   *time.Timer
	onFail  func()
}

// NewHeartbeatDetector returns a detector that fires after timeout of
// silence from the primary, once started.
func NewHeartbeatDetector(timeout time.Duration) *HeartbeatDetector {
	return &HeartbeatDetector{timeout: timeout}
}

// Start arms the timer, calling onFailure each time a full timeout passes
// without a Reset.
func (d *HeartbeatDetector) Start(onFailure func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFail = onFailure
	d.timer = time.AfterFunc(d.timeout, d.fire)
}

// fire invokes the failure callback, then immediately rearms for another
// timeout cycle: a view change can itself time out, and each attempt needs
// its own deadline against the next primary.
func (d *HeartbeatDetector) fire() {
	d.mu.Lock()
	cb := d.onFail
	if d.timer != nil {
		d.timer.Reset(d.timeout)
	}
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Reset pushes the deadline out another full timeout, as if the primary had
// just been heard from.
func (d *HeartbeatDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Reset(d.timeout)
	}
}

// Stop disarms the timer permanently.
func (d *HeartbeatDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
