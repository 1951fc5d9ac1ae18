package reconcile

// FileChange is one planned operation against a managed configuration file.
// Content is nil for removals.
type FileChange struct {
	Path    string
	Content []byte
	Reason  string
}

type Plan struct {
	Write  []FileChange
	Remove []FileChange
}

func (p Plan) IsEmpty() bool {
	return len(p.Write) == 0 && len(p.Remove) == 0
}

type Results struct {
	Written  []string
	Removed  []string
	Failures []OperationResult
	Reloaded bool
}

type OperationResult struct {
	Path  string
	Op    string
	Error string
}
