package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cms-dev/cms/internal/domain"
)

func writeServicesYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadServicesConfigResolvesCoreAndOtherServices(t *testing.T) {
	path := writeServicesYAML(t, `
core_services:
  EvaluationService:
    - "10.0.0.1:28000"
  ScoringService:
    - "10.0.0.1:28500"
other_services:
  Worker:
    - "10.0.0.2:26000"
    - "10.0.0.3:26000"
`)

	sc, err := LoadServicesConfig([]string{path})
	if err != nil {
		t.Fatalf("LoadServicesConfig() error = %v", err)
	}

	addr, ok := sc.Lookup(domain.ServiceCoord{Name: "EvaluationService", Shard: 0})
	if !ok {
		t.Fatal("EvaluationService shard 0 not found")
	}
	if addr.Host != "10.0.0.1" || addr.Port != 28000 {
		t.Errorf("EvaluationService addr = %+v, want {10.0.0.1 28000}", addr)
	}

	addr, ok = sc.Lookup(domain.ServiceCoord{Name: "Worker", Shard: 1})
	if !ok {
		t.Fatal("Worker shard 1 not found")
	}
	if addr.Host != "10.0.0.3" || addr.Port != 26000 {
		t.Errorf("Worker shard 1 addr = %+v, want {10.0.0.3 26000}", addr)
	}

	if _, ok := sc.Lookup(domain.ServiceCoord{Name: "Worker", Shard: 9}); ok {
		t.Error("unexpected lookup hit for nonexistent shard")
	}
}

func TestServicesConfigShardsEnumeratesAllShardsOfAName(t *testing.T) {
	path := writeServicesYAML(t, `
core_services:
  EvaluationService:
    - "10.0.0.1:28000"
other_services:
  Worker:
    - "10.0.0.2:26000"
    - "10.0.0.3:26000"
    - "10.0.0.4:26000"
`)
	sc, err := LoadServicesConfig([]string{path})
	if err != nil {
		t.Fatalf("LoadServicesConfig() error = %v", err)
	}

	workers := sc.Shards("Worker")
	if len(workers) != 3 {
		t.Fatalf("Shards(Worker) = %v, want 3 entries", workers)
	}
	seen := make(map[int]bool)
	for _, coord := range workers {
		if coord.Name != "Worker" {
			t.Errorf("Shards(Worker) returned coord with Name = %q", coord.Name)
		}
		seen[coord.Shard] = true
	}
	for _, shard := range []int{0, 1, 2} {
		if !seen[shard] {
			t.Errorf("Shards(Worker) missing shard %d", shard)
		}
	}

	if es := sc.Shards("EvaluationService"); len(es) != 1 {
		t.Errorf("Shards(EvaluationService) = %v, want 1 entry", es)
	}

	if none := sc.Shards("DoesNotExist"); len(none) != 0 {
		t.Errorf("Shards(DoesNotExist) = %v, want empty", none)
	}
}

func TestLoadServicesConfigFallsThroughCandidates(t *testing.T) {
	path := writeServicesYAML(t, "core_services:\n  EvaluationService:\n    - \"127.0.0.1:28000\"\n")
	sc, err := LoadServicesConfig([]string{"/does/not/exist.yaml", path})
	if err != nil {
		t.Fatalf("LoadServicesConfig() error = %v", err)
	}
	if _, ok := sc.Lookup(domain.ServiceCoord{Name: "EvaluationService", Shard: 0}); !ok {
		t.Error("expected EvaluationService shard 0 to resolve from the fallback candidate")
	}
}

func TestLoadServicesConfigNoCandidateExists(t *testing.T) {
	_, err := LoadServicesConfig([]string{"/does/not/exist.yaml"})
	if err == nil {
		t.Fatal("expected error when no candidate path exists")
	}
}

func TestLoadServicesConfigBadPort(t *testing.T) {
	path := writeServicesYAML(t, "core_services:\n  EvaluationService:\n    - \"127.0.0.1:notaport\"\n")
	_, err := LoadServicesConfig([]string{path})
	if err == nil {
		t.Fatal("expected error for malformed port")
	}
}
