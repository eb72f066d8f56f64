// Package blobstore provides the durable-storage collaborator that receives
// validated artifacts at promotion time.
//
// Storage is a small contract over path-like string keys: put, get, delete,
// exists, move, and prefix enumeration. Two backends are provided:
// LocalStorage for filesystem deployments and S3Storage for Amazon S3 and
// S3-compatible services (MinIO, Wasabi, etc.). Both confine keys the same
// way the quarantine store does: traversal segments and absolute prefixes are
// rejected before any backend call.
//
//	store, err := blobstore.NewLocalStorage("/var/uploads")
//	if err != nil {
//		return err
//	}
//
//	// promotion-time ownership transfer of a validated artifact
//	if err := store.Move(ctx, artifact.Path, "tenant-42/avatars/abc.png"); err != nil {
//		return err
//	}
package blobstore
