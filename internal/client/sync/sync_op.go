package sync

type OpType string

const (
	OpPull         OpType = "Pull"
	OpPush         OpType = "Push"
	OpCreate       OpType = "Create"
	OpDeleteLocal  OpType = "DeleteLocal"
	OpDeleteRemote OpType = "DeleteRemote"
)

// SyncOperation is one per-file action decided by a cycle.
type SyncOperation struct {
	Type   OpType
	Owner  string
	Local  *FileMetadata
	Remote *FileMetadata
}

// Path of the record the operation acts on.
func (op *SyncOperation) Path() string {
	if op.Remote != nil {
		return op.Remote.Path
	}
	if op.Local != nil {
		return op.Local.Path
	}
	return ""
}
