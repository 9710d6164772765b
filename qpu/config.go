package qpu

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/animicaorg/animica-core/attest"
	"github.com/animicaorg/animica-core/errors"
)

// trustFile is the on-disk YAML shape for the provider trust environment.
type trustFile struct {
	JWKSDir     string `yaml:"jwks_dir"`
	QPURootPEM  string `yaml:"qpu_root_pem"`
}

// LoadTrust builds a Trust environment from a YAML config naming the JWKS
// cache directory and, optionally, the pinned QPU root certificate. Both
// are read once; the resulting Trust is immutable.
func LoadTrust(path string) (Trust, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Trust{}, errors.Wrap(errors.CodeAttestation, "read trust config", err)
	}
	var f trustFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Trust{}, errors.Wrap(errors.CodeAttestation, "parse trust config", err)
	}
	if f.JWKSDir == "" {
		return Trust{}, errors.Attestation("trust config missing jwks_dir")
	}
	cache, err := LoadJWKSCache(f.JWKSDir)
	if err != nil {
		return Trust{}, err
	}
	trust := Trust{Cache: cache}
	if f.QPURootPEM != "" {
		root, err := attest.LoadRootPEM(f.QPURootPEM)
		if err != nil {
			return Trust{}, err
		}
		trust.PinnedRoot = root
	}
	return trust, nil
}
