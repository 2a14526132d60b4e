// Package sandboxcfg defines the versioned YAML policy bundle handed to the
// sandbox alongside a server's tool/secret payload on register_server. A
// bundle carries an apiVersion string, the server's id and name, and the one
// policy surface the sandbox itself enforces: which modules a tool may import
// and which network hosts it may reach.
package sandboxcfg

import "gopkg.in/yaml.v3"

// BundleVersion is the apiVersion string required in every policy bundle.
const BundleVersion = "mcpbox.sandbox/v1"

// Bundle is the root type for a server's sandbox policy bundle.
type Bundle struct {
	APIVersion string   `yaml:"apiVersion"`
	ServerID   string   `yaml:"serverId"`
	ServerName string   `yaml:"serverName"`
	Modules    []string `yaml:"allowedModules,omitempty"`
	Hosts      []string `yaml:"allowedHosts,omitempty"`
}

// New builds a Bundle from a server's resolved policy state.
func New(serverID, serverName string, allowedModules, allowedHosts []string) Bundle {
	return Bundle{
		APIVersion: BundleVersion,
		ServerID:   serverID,
		ServerName: serverName,
		Modules:    allowedModules,
		Hosts:      allowedHosts,
	}
}

// Marshal renders the bundle as YAML text for transport inside the
// register_server JSON payload (the sandbox decodes it as a nested document,
// not as a field-by-field JSON structure, so operators can hand-edit and
// diff the policy independently of the rest of the request).
func Marshal(b Bundle) (string, error) {
	out, err := yaml.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Unmarshal parses a policy bundle back out of its YAML text. Used by the
// tests to round-trip what Marshal produced.
func Unmarshal(text string) (Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal([]byte(text), &b); err != nil {
		return Bundle{}, err
	}
	return b, nil
}
