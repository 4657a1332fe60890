package gradeworker

import "testing"

func TestNewTaskTypeUnknownName(t *testing.T) {
	if _, err := NewTaskType("DoesNotExist", ""); err == nil {
		t.Fatal("NewTaskType() with an unregistered name should error")
	}
}

func TestNewTaskTypeBatch(t *testing.T) {
	tt, err := NewTaskType("Batch", `{"checker":"check"}`)
	if err != nil {
		t.Fatalf("NewTaskType(Batch) error = %v", err)
	}
	if _, ok := tt.(*batch); !ok {
		t.Errorf("NewTaskType(Batch) returned %T, want *batch", tt)
	}
}

func TestNewTaskTypeCommunication(t *testing.T) {
	tt, err := NewTaskType("Communication", `{"manager":"manager"}`)
	if err != nil {
		t.Fatalf("NewTaskType(Communication) error = %v", err)
	}
	if _, ok := tt.(*communication); !ok {
		t.Errorf("NewTaskType(Communication) returned %T, want *communication", tt)
	}
}

func TestNewTaskTypeBatchInvalidParams(t *testing.T) {
	if _, err := NewTaskType("Batch", `not json`); err == nil {
		t.Fatal("NewTaskType(Batch) with malformed params should error")
	}
}

func TestRegisterTaskTypeAddsCustomName(t *testing.T) {
	RegisterTaskType("TestOnlyEcho", func(params string) (TaskType, error) {
		return &batch{}, nil
	})
	if _, err := NewTaskType("TestOnlyEcho", ""); err != nil {
		t.Fatalf("NewTaskType(TestOnlyEcho) error = %v", err)
	}
}
