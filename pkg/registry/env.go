package registry

import (
	"fmt"
	"os"
	"strings"
)

// Env is the runtime configuration needed to run in registry mode.
type Env struct {
	// Services contains the discovered registry service base URLs to call.
	Services Services
	// DefaultCAPath is the path to a PEM bundle that should be trusted for TLS.
	// In managed deployments, this is provided via REGISTRY_CA_PATH.
	DefaultCAPath string
	Token         string
	// Sources optionally restricts a run to a subset of the registry's sources.
	// Empty means clean everything the registry lists.
	Sources []string
}

// LoadEnv reads required registry-mode env vars.
//
// Required:
//   - REGISTRY_TOKEN (file path)
//   - REGISTRY_SERVICE_DISCOVERY (file path) or REGISTRY_URL
func LoadEnv() (Env, error) {
	services, err := loadServicesFromEnv()
	if err != nil {
		return Env{}, err
	}
	defaultCAPath := strings.TrimSpace(os.Getenv("REGISTRY_CA_PATH"))

	token, err := readFileEnv("REGISTRY_TOKEN")
	if err != nil {
		return Env{}, err
	}

	return Env{
		Services:      services,
		DefaultCAPath: defaultCAPath,
		Token:         token,
		Sources:       splitSourcesEnv("REGISTRY_SOURCES"),
	}, nil
}

func loadServicesFromEnv() (Services, error) {
	if p := strings.TrimSpace(os.Getenv("REGISTRY_SERVICE_DISCOVERY")); p != "" {
		return loadServicesFromDiscoveryFile(p)
	}

	// Back-compat: allow explicit REGISTRY_URL when service discovery is not present.
	registryURL := strings.TrimSpace(os.Getenv("REGISTRY_URL"))
	if registryURL == "" {
		return Services{}, fmt.Errorf("REGISTRY_SERVICE_DISCOVERY or REGISTRY_URL is required")
	}
	if !strings.Contains(registryURL, "://") {
		registryURL = "https://" + registryURL
	}
	registryURL = strings.TrimRight(registryURL, "/")

	return Services{
		API: registryURL + "/api",
	}, nil
}

func readFileEnv(varName string) (string, error) {
	path := strings.TrimSpace(os.Getenv(varName))
	if path == "" {
		return "", fmt.Errorf("%s is required", varName)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s file: %w", varName, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func splitSourcesEnv(varName string) []string {
	raw := strings.TrimSpace(os.Getenv(varName))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
