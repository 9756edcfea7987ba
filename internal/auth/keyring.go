package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultKeysFile = "agentmail.keys.yaml"

type keysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Projects map[string]projectTokens `yaml:"projects"`
}

type projectTokens struct {
	Tokens []tokenEntry `yaml:"tokens"`
}

type tokenEntry struct {
	Token string `yaml:"token"`
	Agent string `yaml:"agent,omitempty"`
}

// Binding is what a bearer token resolves to: the project the token is
// scoped to and, optionally, the agent of record.
type Binding struct {
	Project string
	Agent   string
}

type Keyring struct {
	AllowLocalhostWithoutAuth bool
	tokens                    map[string]Binding
}

func ResolveKeysPath(configured string) string {
	if configured != "" {
		return configured
	}
	if v := strings.TrimSpace(os.Getenv("AGENTMAIL_KEYS_FILE")); v != "" {
		return v
	}
	return filepath.Join(".", defaultKeysFile)
}

func LoadKeyring(path string) (*Keyring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultKeyring(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultKeyring(), nil
		}
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	ring := &Keyring{
		AllowLocalhostWithoutAuth: true,
		tokens:                    make(map[string]Binding),
	}
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth != nil {
		ring.AllowLocalhostWithoutAuth = *cfg.DefaultPolicy.AllowLocalhostWithoutAuth
	}
	for project, pt := range cfg.Projects {
		for _, entry := range pt.Tokens {
			token := strings.TrimSpace(entry.Token)
			if token == "" {
				continue
			}
			if existing, ok := ring.tokens[token]; ok && existing.Project != project {
				return nil, fmt.Errorf("token reused across projects: %q", token)
			}
			ring.tokens[token] = Binding{Project: project, Agent: strings.TrimSpace(entry.Agent)}
		}
	}
	return ring, nil
}

func defaultKeyring() *Keyring {
	return &Keyring{AllowLocalhostWithoutAuth: true, tokens: make(map[string]Binding)}
}

func NewKeyring(allowLocalhost bool, tokens map[string]Binding) *Keyring {
	clone := make(map[string]Binding, len(tokens))
	for k, v := range tokens {
		clone[k] = v
	}
	return &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, tokens: clone}
}

func (k *Keyring) Lookup(token string) (Binding, bool) {
	if k == nil {
		return Binding{}, false
	}
	b, ok := k.tokens[token]
	return b, ok
}

// InitKeysFile appends a fresh token for the project to the keys file,
// creating the file if needed, and returns the token.
func InitKeysFile(path, project, agent string) (string, error) {
	path = strings.TrimSpace(path)
	project = strings.TrimSpace(project)
	if path == "" {
		return "", fmt.Errorf("keys file path required")
	}
	if project == "" {
		return "", fmt.Errorf("project required")
	}

	var cfg keysFile
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read keys file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return "", fmt.Errorf("parse keys file: %w", err)
		}
	}
	if cfg.Projects == nil {
		cfg.Projects = make(map[string]projectTokens)
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	pt := cfg.Projects[project]
	pt.Tokens = append(pt.Tokens, tokenEntry{Token: token, Agent: strings.TrimSpace(agent)})
	cfg.Projects[project] = pt
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth == nil {
		val := true
		cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &val
	}

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("marshal keys file: %w", err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return "", fmt.Errorf("write keys file: %w", err)
	}
	return token, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
