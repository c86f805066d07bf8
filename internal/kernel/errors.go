package kernel

import "troupe/internal/core"

// Kernel error codes. 100 block; see core for the generic codes and
// netio for the socket block.
const (
	CodeInterrupted core.Code = 100 + iota
	CodeMissingDependency
	CodeDependencyCycle
	CodeDuplicateService
	CodeDuplicateActor
	CodeActorNotFound
	CodeMailboxFull
	CodeEngineNotRunning
	CodeAlreadyStarted
	CodeNotStarted
	CodeFactoryFailed
)
