// Package validate streams quarantined artifacts through format, size, and
// content checks, producing a normalized, validated copy plus metadata.
//
// Process first copies the source into an immutable working snapshot while
// holding a shared read lock, which removes the time-of-check/time-of-use
// window between validating a file and later acting on it: every subsequent
// step operates on the snapshot, never the original. Content is then checked
// in bounded chunks with a mandatory trailing overlap window so a dangerous
// signature split exactly across a chunk boundary is still detected, the
// snapshot hash is recomputed to catch concurrent mutation, and image content
// is guarded against decompression-bomb inputs by comparing estimated
// decoded size against on-disk size.
//
//	pipeline, err := validate.NewPipeline(validate.Config{WorkDir: dir}, nil, logger)
//	if err != nil {
//		return err
//	}
//
//	artifact, err := pipeline.Process(ctx, token.Path(), "photo.jpg", profile, correlationID)
//	if err != nil {
//		return err
//	}
//	defer artifact.Cleanup()
//
//	// hand ownership of the normalized output to the promotion step
//	descriptor := artifact.Release()
//
// Validation failures and detected-malware content are permanent; callers
// should not retry them. The snapshot and any partially written normalized
// output are removed on every exit path.
package validate
