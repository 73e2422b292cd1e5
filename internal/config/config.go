package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Internal configuration data structures for bucketcloner.

// AuthMode selects the transport used to clone repositories. HTTPS
// embeds the API token into the clone URL; SSH leaves the URL untouched
// and relies on keys managed outside of bucketcloner.
type AuthMode uint

const (
	AuthHTTPS AuthMode = iota
	AuthSSH
)

func (m AuthMode) String() string {
	if m == AuthSSH {
		return "ssh"
	}
	return "https"
}

// LinkName returns the clone link name repositories expose for this
// transport in the Bitbucket API.
func (m AuthMode) LinkName() string {
	return m.String()
}

func (m *AuthMode) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	return m.set(str)
}

func (m *AuthMode) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	return m.set(s)
}

func (m AuthMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *AuthMode) set(s string) error {
	switch s {
	case "", "https":
		*m = AuthHTTPS
	case "ssh":
		*m = AuthSSH
	default:
		return fmt.Errorf("invalid auth mode %q (expected https or ssh)", s)
	}
	return nil
}

// Root is the top-level configuration structure used by bucketcloner.
// It is constructed once (from an optional YAML file plus command line
// flags) and passed by reference to every component.
type Root struct {
	Email           string   `json:"email,omitempty"`
	Token           string   `json:"token,omitempty"`
	Workspaces      []string `json:"workspaces,omitempty"`
	Project         string   `json:"project,omitempty"`
	BaseFolder      string   `json:"base_folder,omitempty"`
	SkipExisting    bool     `json:"skip_existing,omitempty"`
	Refresh         bool     `json:"refresh,omitempty"`
	ProjectFolders  bool     `json:"project_folders,omitempty"`
	Auth            AuthMode `json:"auth,omitzero"`
	APIURL          string   `json:"api_url,omitempty"`
	PageLength      int      `json:"pagelen,omitempty"`
	Include         []string `json:"include,omitempty"`
	Exclude         []string `json:"exclude,omitempty"`
	SSHFingerprints []string `json:"ssh_fingerprints,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// ExpandEnv resolves ${VAR} references in the credential fields so that
// tokens can be kept out of config files.
func (r *Root) ExpandEnv() {
	r.Email = os.ExpandEnv(r.Email)
	r.Token = os.ExpandEnv(r.Token)
}

func ParseFile(filename string) (root *Root, err error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	return Parse(bs)
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &root, nil
}

func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}
