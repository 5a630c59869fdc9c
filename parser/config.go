package parser

import (
	"sync/atomic"

	"github.com/veraPDF/pdfbox/observability"
	"github.com/veraPDF/pdfbox/recovery"
	"github.com/veraPDF/pdfbox/scratch"
	"github.com/veraPDF/pdfbox/security"
)

const (
	defaultEOFLookupRange = 2048
	minEOFLookupRange     = 16
)

var globalEOFLookupRange atomic.Int64

// SetEOFLookupRange overrides, process-wide, how many trailing bytes are
// scanned for %%EOF and startxref. Values below the minimum are ignored.
func SetEOFLookupRange(n int) {
	if n >= minEOFLookupRange {
		globalEOFLookupRange.Store(int64(n))
	}
}

func eofLookupRange(override int) int64 {
	if override >= minEOFLookupRange {
		return int64(override)
	}
	if v := globalEOFLookupRange.Load(); v >= minEOFLookupRange {
		return v
	}
	return defaultEOFLookupRange
}

// Config controls a document parse.
type Config struct {
	// Mode selects lenient (default), strict, or validation parsing.
	Mode recovery.Mode

	Limits security.Limits

	// Security decrypts objects once PrepareForDecryption succeeds.
	// Nil documents parse with a no-op handler.
	Security security.Handler

	// Material is handed to the security handler, typically a
	// security.StandardMaterial with the user password.
	Material security.DecryptionMaterial

	// Scratch owns stream payloads; defaults to an in-memory space.
	Scratch scratch.Space

	Logger observability.Logger

	// EOFLookupRange overrides the trailing scan window for this parse
	// only. Zero uses the process-wide setting.
	EOFLookupRange int
}

func (c Config) normalized() Config {
	if c.Scratch == nil {
		c.Scratch = scratch.InMemory()
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger{}
	}
	if c.Security == nil {
		c.Security = security.NoopHandler()
	}
	c.Limits = c.Limits.Normalized()
	return c
}
