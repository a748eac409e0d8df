package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// serviceDiscovery mirrors the manifest format used by registry deployments,
// where each service id maps to a single-element list containing the base URL.
// Only the services this module calls are read; other entries are ignored.
//
// Example (YAML):
//
//	registry_api:
//	  - https://registry.example.org/api
//	job_broker:
//	  - https://registry.example.org/jobs
type serviceDiscovery map[string][]string

type Services struct {
	API string
}

func loadServicesFromDiscoveryFile(path string) (Services, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Services{}, fmt.Errorf("REGISTRY_SERVICE_DISCOVERY is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Services{}, fmt.Errorf("read REGISTRY_SERVICE_DISCOVERY file: %w", err)
	}

	var raw serviceDiscovery
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Services{}, fmt.Errorf("parse REGISTRY_SERVICE_DISCOVERY YAML: %w", err)
	}

	getOne := func(key string) (string, bool) {
		vals, ok := raw[key]
		if !ok || len(vals) == 0 {
			return "", false
		}
		v := strings.TrimSpace(vals[0])
		if v == "" {
			return "", false
		}
		return v, true
	}

	api, ok := getOne("registry_api")
	if !ok {
		return Services{}, fmt.Errorf("REGISTRY_SERVICE_DISCOVERY missing registry_api")
	}

	return Services{
		API: api,
	}, nil
}
