package validate

import (
	"bytes"
	"fmt"
	"io"
)

// chunkSize is the bounded read size for the defensive content scan.
const chunkSize = 128 * 1024

// dangerousSignatures are byte patterns that indicate embedded script or
// executable content. Matching is case-insensitive. The list is deliberately
// small: this is a defense-in-depth check behind the real scanning engines,
// not a substitute for them.
var dangerousSignatures = [][]byte{
	[]byte("<script"),
	[]byte("<?php"),
	[]byte("<%"),
	[]byte("javascript:"),
	[]byte("eval("),
	[]byte("exec("),
	[]byte("system("),
	[]byte("shell_exec("),
	[]byte("passthru("),
	[]byte("base64_decode("),
}

// overlapSize is the trailing window carried from the previous chunk. It must
// exceed the longest signature so a pattern split exactly across a chunk
// boundary is still detected.
var overlapSize = func() int {
	longest := 0
	for _, sig := range dangerousSignatures {
		if len(sig) > longest {
			longest = len(sig)
		}
	}
	return longest
}()

// scanChunks streams r in bounded chunks, checking each chunk plus the
// trailing overlap window from the previous one against the dangerous
// signature set.
func scanChunks(r io.Reader) error {
	overlap := make([]byte, 0, overlapSize)
	buf := make([]byte, chunkSize)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			window := make([]byte, 0, len(overlap)+n)
			window = append(window, overlap...)
			window = append(window, buf[:n]...)

			if sig := matchSignature(window); sig != "" {
				return fmt.Errorf("%w: %s", ErrDangerousContent, sig)
			}

			if len(window) > overlapSize {
				overlap = append(overlap[:0], window[len(window)-overlapSize:]...)
			} else {
				overlap = append(overlap[:0], window...)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("%w: %v", ErrSnapshotFailed, readErr)
		}
	}
}

func matchSignature(window []byte) string {
	lowered := bytes.ToLower(window)
	for _, sig := range dangerousSignatures {
		if bytes.Contains(lowered, sig) {
			return string(sig)
		}
	}
	return ""
}
