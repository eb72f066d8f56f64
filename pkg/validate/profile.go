package validate

import "os"

// Profile describes the byte, MIME, extension, and dimension constraints a
// validated artifact must satisfy.
type Profile struct {
	Name              string
	MaxBytes          int64
	AllowedMIMETypes  []string // empty allows any type
	AllowedExtensions []string // lowercase with dot, e.g. ".jpg"; empty allows any
	Image             bool     // enables dimension checks and the decompression guard

	MinWidth, MinHeight int
	MaxWidth, MaxHeight int
	MaxMegapixels       float64

	// MaxDecompressionRatio bounds estimated decoded size (w*h*4) over
	// on-disk size. Zero applies the default.
	MaxDecompressionRatio float64
}

const defaultDecompressionRatio = 250.0

// Artifact describes a validated, normalized output. The owner of an
// Artifact is responsible for the file at Path: call Cleanup on failure
// paths, or Release to transfer ownership to the promotion step.
type Artifact struct {
	Path             string
	Size             int64
	MIMEType         string
	Width, Height    int
	Hash             string
	OriginalFilename string

	released bool
}

// Release transfers ownership of the underlying file and returns a
// cleanup-inert descriptor. After Release, Cleanup on the original is a
// no-op, so the promotion step can consume the file without racing a
// deferred delete.
func (a *Artifact) Release() Artifact {
	a.released = true
	out := *a
	out.released = true
	return out
}

// Cleanup deletes the normalized output unless ownership was transferred via
// Release. Safe to defer unconditionally.
func (a *Artifact) Cleanup() {
	if a == nil || a.released || a.Path == "" {
		return
	}
	_ = os.Remove(a.Path)
}
