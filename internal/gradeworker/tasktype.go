package gradeworker

import "fmt"

// taskTypeRegistry holds one constructor per known TaskType name, the
// same "unknown -> error" shape as internal/rpc's method registry.
var taskTypeRegistry = map[string]func(params string) (TaskType, error){
	"Batch":         newBatch,
	"Communication": newCommunication,
}

// RegisterTaskType adds or replaces a TaskType constructor. Exported so
// deployments can add task types the core doesn't ship without forking
// this package.
func RegisterTaskType(name string, ctor func(params string) (TaskType, error)) {
	taskTypeRegistry[name] = ctor
}

// NewTaskType looks up name in the registry and constructs it with the
// task's opaque TaskTypeParams blob.
func NewTaskType(name, params string) (TaskType, error) {
	ctor, ok := taskTypeRegistry[name]
	if !ok {
		return nil, fmt.Errorf("gradeworker: unknown task type %q", name)
	}
	return ctor(params)
}
