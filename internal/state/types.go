package state

// State records every configuration file this daemon wrote, keyed by path.
// Ownership matters: only files present here may ever be removed.
type State struct {
	Files map[string]FileState
}

type FileState struct {
	SHA256      string `json:"sha256"`
	LastWritten int64  `json:"lastWritten"`
}
