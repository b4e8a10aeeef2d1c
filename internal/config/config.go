// Package config loads the server's on-disk configuration file: the
// certificate chain and private key paths TLS needs, plus the shared
// password placeholder and temporary Diffie-Hellman parameter file the
// legacy configuration format carried.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the listen port used when none is given on the CLI.
const DefaultPort = 15001

// Server is the server-side configuration file format.
type Server struct {
	Password             string `yaml:"password"`
	CertificateChainFile string `yaml:"certificate_chain_file"`
	PrivateKeyFile       string `yaml:"private_key_file"`
	TmpDHFile            string `yaml:"tmp_dh_file"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Server{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Server
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Server{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// HasCertificateFiles reports whether cfg names both halves of a
// certificate/key pair, i.e. the server should load them from disk
// rather than fall back to a self-signed development certificate.
func (cfg Server) HasCertificateFiles() bool {
	return cfg.CertificateChainFile != "" && cfg.PrivateKeyFile != ""
}
