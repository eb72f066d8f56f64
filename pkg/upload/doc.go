// Package upload orchestrates a single artifact through the full containment
// pipeline: quarantine placement, malware scanning, streaming validation, and
// promotion into durable storage.
//
// All lifecycle changes go through the quarantine store's Transition
// primitive; the orchestrator never writes state directly. On any failure
// after quarantine placement it attempts a best-effort transition to the
// appropriate terminal failure state before returning the error, and always
// cleans up validation outputs in a final step.
//
//	orch, err := upload.NewOrchestrator(store, coordinator, pipeline, logger)
//	if err != nil {
//		return err
//	}
//
//	receipt, err := orch.Process(ctx, upload.Request{
//		Owner:            "tenant-42",
//		OriginalFilename: "avatar.png",
//		Content:          file,
//		Profile:          profile,
//	})
//
// The package also carries two supporting pieces used by background
// processing: a Redis-backed short-TTL debounce lock that suppresses
// redundant kickoff of the same logical work (never correctness — failure to
// acquire degrades to proceeding), and a pure polling decision function for
// waiting on dependent asynchronous work, bounded by both a retry count and a
// total elapsed time.
package upload
