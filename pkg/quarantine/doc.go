// Package quarantine implements content-addressed, partitioned blob storage
// for in-flight uploaded artifacts that have not yet been trusted.
//
// Every artifact lives under the store's root at an unpredictable partitioned
// path derived from a 256-bit random value, accompanied by two sidecar files:
// a SHA-256 integrity sidecar written at ingest time, and a JSON metadata
// sidecar carrying the artifact's lifecycle state.
//
// # Lifecycle
//
// Artifacts move through a closed state machine:
//
//	pending -> scanning -> clean -> promoted
//	           scanning -> infected
//	any non-terminal    -> failed
//	any non-terminal    -> expired (TTL sweep)
//
// Transition is the sole mutation primitive and enforces an expected-state
// precondition: the caller names the state it believes the artifact is in,
// and the transition is rejected without side effects when the persisted
// state differs.
//
// # Usage
//
//	store, err := quarantine.New(quarantine.Config{Root: "/var/quarantine"}, logger)
//	if err != nil {
//		return err
//	}
//
//	token, err := store.Put(ctx, content, quarantine.PutOptions{Profile: "avatar"})
//	if err != nil {
//		return err
//	}
//
//	if err := store.Transition(ctx, token, quarantine.StatePending, quarantine.StateScanning, nil); err != nil {
//		return err
//	}
//
// Promote verifies the integrity sidecar and performs a two-phase move into
// the promoted namespace, so a crash mid-promotion leaves either the original
// artifact or a recoverable temporary, never a half-written destination.
package quarantine
