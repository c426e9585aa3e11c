package supervisor

import (
	"context"
	"testing"
)

func TestRegistryPutAndOwnership(t *testing.T) {
	r := NewRegistry()
	r.Put(&Entry{Project: "proj-1", Port: 9001, PID: 400})

	if owner, ok := r.PortOwner(9001); !ok || owner != "proj-1" {
		t.Errorf("Expected proj-1 to own port 9001, got %q (ok=%v)", owner, ok)
	}
	if !r.OwnsPID(400) {
		t.Error("Expected pid 400 to be tracked")
	}
	if port, ok := r.Port("proj-1"); !ok || port != 9001 {
		t.Errorf("Expected port 9001 for proj-1, got %d (ok=%v)", port, ok)
	}
}

func TestRegistryRemoveReleasesOwnership(t *testing.T) {
	r := NewRegistry()
	r.Put(&Entry{Project: "proj-1", Port: 9001, PID: 400})
	r.Remove("proj-1")

	if _, ok := r.Entry("proj-1"); ok {
		t.Error("Expected entry to be removed")
	}
	if _, ok := r.PortOwner(9001); ok {
		t.Error("Expected port ownership to be released")
	}
	if r.OwnsPID(400) {
		t.Error("Expected pid ownership to be released")
	}

	// Removing an absent project is a no-op.
	r.Remove("proj-1")
}

func TestRegistryRemoveKeepsNewerOwnership(t *testing.T) {
	// If a port was re-claimed while an old entry lingered, removing the
	// old project must not strip the new owner's claim.
	r := NewRegistry()
	r.Put(&Entry{Project: "proj-1", Port: 9001, PID: 400})
	r.Put(&Entry{Project: "proj-2", Port: 9001, PID: 500})

	r.Remove("proj-1")
	if owner, ok := r.PortOwner(9001); !ok || owner != "proj-2" {
		t.Errorf("Expected proj-2 to keep port 9001, got %q (ok=%v)", owner, ok)
	}
}

func TestRegistryOwnershipInvariant(t *testing.T) {
	// A port or pid appears in the ownership maps iff an entry references it.
	r := NewRegistry()
	r.Put(&Entry{Project: "proj-1", Port: 9001, PID: 400})
	r.Put(&Entry{Project: "proj-2", Port: 9002, PID: 500})

	for _, project := range r.Projects() {
		entry, ok := r.Entry(project)
		if !ok {
			t.Fatalf("Projects listed %s but Entry returned nothing", project)
		}
		if owner, ok := r.PortOwner(entry.Port); !ok || owner != project {
			t.Errorf("Port %d not owned by %s", entry.Port, project)
		}
		if !r.OwnsPID(entry.PID) {
			t.Errorf("PID %d not tracked for %s", entry.PID, project)
		}
	}

	r.Remove("proj-1")
	if _, ok := r.PortOwner(9001); ok {
		t.Error("Port 9001 still owned after removal")
	}
	if owner, ok := r.PortOwner(9002); !ok || owner != "proj-2" {
		t.Errorf("Expected proj-2 to still own 9002, got %q (ok=%v)", owner, ok)
	}
}

func TestRegistryLastError(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.LastError("proj-1"); ok {
		t.Error("Expected no last error initially")
	}

	r.SetLastError("proj-1", "boom")
	if msg, ok := r.LastError("proj-1"); !ok || msg != "boom" {
		t.Errorf("Expected last error 'boom', got %q (ok=%v)", msg, ok)
	}

	r.ClearLastError("proj-1")
	if _, ok := r.LastError("proj-1"); ok {
		t.Error("Expected last error to be cleared")
	}
}

func TestRegistryLockForReturnsSameMutex(t *testing.T) {
	r := NewRegistry()
	a := r.LockFor("proj-1")
	b := r.LockFor("proj-1")
	if a != b {
		t.Error("Expected the same mutex for repeated LockFor calls")
	}
	if r.LockFor("proj-2") == a {
		t.Error("Expected distinct mutexes per project")
	}
}

func TestRegistryStartHandles(t *testing.T) {
	r := NewRegistry()

	_, cancel1 := context.WithCancel(context.Background())
	previous, first := r.BeginStart("proj-1", cancel1)
	if previous != nil {
		t.Fatal("Expected no previous handle on first start")
	}

	_, cancel2 := context.WithCancel(context.Background())
	displaced, second := r.BeginStart("proj-1", cancel2)
	if displaced != first {
		t.Fatal("Expected the first handle to be displaced")
	}

	// Finishing the displaced handle must not clear the current one.
	r.FinishStart("proj-1", first)
	select {
	case <-first.done:
	default:
		t.Error("Expected the finished handle's done channel to be closed")
	}

	_, cancel3 := context.WithCancel(context.Background())
	displaced, _ = r.BeginStart("proj-1", cancel3)
	if displaced != second {
		t.Errorf("Expected the second handle to still be current")
	}
}
