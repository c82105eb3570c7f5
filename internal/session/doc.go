// Package session implements the ephemeral view session: one activation of
// a share link, from record lookup through a fixed countdown to expiry.
//
// # State machine
//
//	INITIALIZING ──absent──▶ NOT_FOUND
//	     │
//	  present, access logged
//	     ▼
//	  ACTIVE ──countdown hits 0──▶ EXPIRED
//
// While ACTIVE the session also carries a focus sub-state, FOCUSED or
// INTERLOCKED. Focus events toggle it and never touch the countdown or the
// audit log. EXPIRED and NOT_FOUND are terminal and present the same outcome
// to the viewer.
//
// # Ordering
//
// Activate logs the access before returning, so the ticker started by Run is
// always armed after the log entry is durable. Every transition holds the
// session mutex for its whole duration; ticks and focus events from
// different goroutines are applied one at a time.
//
// # Payload
//
// The record snapshot taken at activation is dropped on expiry and on Close.
// This is a deterrent, not a confidentiality guarantee: anyone who received a
// frame already has the pixels.
package session
