package fetch

// Metadata is the caller-supplied response metadata map. Fetch only adds
// diagnostic entries to it; a nil Metadata is allowed.
type Metadata map[string]any

const (
	MetaBackend      = "fetch.backend"
	MetaAttempts     = "fetch.attempts"
	MetaElapsedMs    = "fetch.elapsed_ms"
	MetaSleptMs      = "fetch.slept_ms"
	MetaSpooledPath  = "fetch.spooled_path"
	MetaSize         = "fetch.size"
	MetaErrorCode    = "fetch.error_code"
	MetaErrorMessage = "fetch.error_message"
)

func (m Metadata) set(key string, value any) {
	if m != nil {
		m[key] = value
	}
}
