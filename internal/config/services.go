package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/cms-dev/cms/internal/domain"
)

// ServicesYAML is the on-disk shape of a services.yaml file: two maps from
// service name to a per-shard list of "host:port" addresses, mirroring the
// source's core_services/other_services split (core_services get the job
// queue/ranking dispatch; other_services are workers, sized independently).
type ServicesYAML struct {
	CoreServices  map[string][]string `yaml:"core_services"`
	OtherServices map[string][]string `yaml:"other_services"`
}

// ServicesConfig resolves a ServiceCoord to its listen/dial Address.
type ServicesConfig struct {
	addrs map[domain.ServiceCoord]domain.Address
}

// LoadServicesConfig reads the first path in candidates that exists and
// parses it into a ServicesConfig.
func LoadServicesConfig(candidates []string) (*ServicesConfig, error) {
	var lastErr error
	for _, path := range candidates {
		// #nosec G304 -- candidates come from operator-controlled config, not request input
		content, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		var raw ServicesYAML
		if err := yaml.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("op=config.LoadServicesConfig: parse %s: %w", path, err)
		}
		sc := &ServicesConfig{addrs: make(map[domain.ServiceCoord]domain.Address)}
		if err := sc.ingest(raw.CoreServices); err != nil {
			return nil, fmt.Errorf("op=config.LoadServicesConfig: %w", err)
		}
		if err := sc.ingest(raw.OtherServices); err != nil {
			return nil, fmt.Errorf("op=config.LoadServicesConfig: %w", err)
		}
		return sc, nil
	}
	return nil, fmt.Errorf("op=config.LoadServicesConfig: no services config found in %v: %w", candidates, lastErr)
}

func (sc *ServicesConfig) ingest(services map[string][]string) error {
	for name, shards := range services {
		for shard, addr := range shards {
			host, port, err := splitHostPort(addr)
			if err != nil {
				return fmt.Errorf("%s[%d]=%q: %w", name, shard, addr, err)
			}
			sc.addrs[domain.ServiceCoord{Name: name, Shard: shard}] = domain.Address{Host: host, Port: port}
		}
	}
	return nil
}

// Lookup returns the Address for coord.
func (sc *ServicesConfig) Lookup(coord domain.ServiceCoord) (domain.Address, bool) {
	addr, ok := sc.addrs[coord]
	return addr, ok
}

// Shards returns every configured shard of name, e.g. so the Evaluation
// Service can dial every Worker shard at startup without an operator
// having to enumerate them separately.
func (sc *ServicesConfig) Shards(name string) []domain.ServiceCoord {
	var out []domain.ServiceCoord
	for coord := range sc.addrs {
		if coord.Name == name {
			out = append(out, coord)
		}
	}
	return out
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad port in %q: %w", addr, err)
	}
	return host, port, nil
}
