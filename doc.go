// Package uploadguard provides a containment pipeline for untrusted file
// uploads: quarantine storage with an explicit lifecycle state machine,
// pluggable malware scanning, streaming content validation, and controlled
// promotion into durable storage.
//
// Uploaded content is treated as hostile until proven otherwise. Every
// artifact enters a quarantine directory with integrity and metadata
// sidecars, is scanned by the configured detection engines, validated
// against a per-profile policy, and only then moved to its final home.
//
// The module is organized into focused packages:
//
//   - pkg/quarantine: the quarantine store and lifecycle state machine
//   - pkg/scanner: detection engines behind a fail-open/fail-closed policy
//   - pkg/validate: the streaming validation and normalization pipeline
//   - pkg/upload: the orchestrator tying the stages together
//   - pkg/blobstore: durable storage backends (local filesystem, S3)
//   - pkg/pathsafe: path containment primitives shared by the above
//
// Typical wiring:
//
//	store, _ := quarantine.New(quarantine.Config{Root: "/var/quarantine", MaxBytes: 100 << 20}, log)
//	av, _ := scanner.NewClamAV(scanCfg, nil, log)
//	scans := scanner.NewCoordinator([]scanner.Scanner{av}, true, log)
//	pipeline, _ := validate.NewPipeline(validate.Config{WorkDir: "/var/validate"}, nil, log)
//
//	orchestrator, _ := upload.NewOrchestrator(store, scans, pipeline, log)
//	receipt, err := orchestrator.Process(ctx, upload.Request{
//		Owner:            "tenant-1",
//		OriginalFilename: "avatar.png",
//		Content:          file,
//		Profile:          avatarProfile,
//	})
package uploadguard
