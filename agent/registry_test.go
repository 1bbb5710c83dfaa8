package agent

import (
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"loom/backend"
	"loom/loomfs"
	"loom/metrics"
)

// fakeBackend is a minimal backend.Backend stub exposing only the status
// surface the registry cares about; the rest of the interface is unused by
// these tests.
type fakeBackend struct {
	status string
	errMsg string
}

func (b *fakeBackend) ID() string                                 { return "fake" }
func (b *fakeBackend) Workdir() string                            { return "/tmp" }
func (b *fakeBackend) Execute(cmd string) backend.ExecuteResponse { return backend.ExecuteResponse{} }
func (b *fakeBackend) ExecuteWithStdin(cmd string, stdin io.Reader) backend.ExecuteResponse {
	return backend.ExecuteResponse{}
}
func (b *fakeBackend) ResolvePath(p string) (string, error) { return p, nil }
func (b *fakeBackend) TerminalCmd() []string                { return nil }
func (b *fakeBackend) FS() loomfs.FileSystem                { return nil }
func (b *fakeBackend) UploadFiles(f []backend.FileUpload) []backend.FileUploadResponse {
	return nil
}
func (b *fakeBackend) DownloadFiles(paths []string) []backend.FileDownloadResponse { return nil }
func (b *fakeBackend) ContainerStatus() string                                     { return b.status }
func (b *fakeBackend) ContainerError() string                                      { return b.errMsg }

func TestRegistry_GetOrClone_CachesAndTracksMetrics(t *testing.T) {
	metrics.InstancesActive.Reset()

	r := NewRegistry()
	r.RegisterTemplate("assistant", &AgentConfig{Name: "Assistant", Model: "gpt-4"})

	inst1, err := r.GetOrClone("assistant", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inst2, err := r.GetOrClone("assistant", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst1 != inst2 {
		t.Fatal("expected GetOrClone to return the same cached instance on repeat calls")
	}
	if inst1.LastAccess.IsZero() {
		t.Fatal("expected LastAccess to be set on clone")
	}

	if got := testutil.ToFloat64(metrics.InstancesActive.WithLabelValues("assistant")); got != 1 {
		t.Fatalf("expected 1 active instance, got %v", got)
	}

	if err := r.DeleteInstance("assistant", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.InstancesActive.WithLabelValues("assistant")); got != 0 {
		t.Fatalf("expected 0 active instances after delete, got %v", got)
	}
}

func TestRegistry_InstanceInfo_PopulatesContainerStatusFromBackendLookup(t *testing.T) {
	r := NewRegistry()
	r.RegisterTemplate("sandboxed", &AgentConfig{Name: "Sandboxed", Backend: &BackendCfg{Type: "docker"}})
	r.SetBackendLookup(func(agentID, username string) backend.Backend {
		if agentID == "sandboxed" && username == "bob" {
			return &fakeBackend{status: "launched"}
		}
		return nil
	})

	inst, err := r.GetOrClone("sandboxed", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info := r.InstanceInfo(inst)
	if info.ContainerStatus == nil || *info.ContainerStatus != "launched" {
		t.Fatalf("expected container status %q, got %+v", "launched", info.ContainerStatus)
	}
}

func TestRegistry_ListAgents_IncludesUnclonedTemplates(t *testing.T) {
	r := NewRegistry()
	r.RegisterTemplate("helper", &AgentConfig{Name: "Helper"})

	agents := r.ListAgents("carol")
	if len(agents) != 1 {
		t.Fatalf("expected 1 placeholder agent for an uncloned template, got %d", len(agents))
	}
	if agents[0].AgentID != "helper" {
		t.Fatalf("expected agent_id %q, got %q", "helper", agents[0].AgentID)
	}
}
