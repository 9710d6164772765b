package attest

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/animicaorg/animica-core/errors"
)

// policyFile is the on-disk YAML shape for AttestationPolicy. Durations are
// expressed in seconds to keep the file toolchain-friendly.
type policyFile struct {
	AllowDebug        bool     `yaml:"allow_debug"`
	RequireChainOK    *bool    `yaml:"require_chain_ok"`
	RequireSigOK      *bool    `yaml:"require_signature_ok"`
	RequireTCBCurrent *bool    `yaml:"require_tcb_up_to_date"`
	AllowTCBOutOfDate bool     `yaml:"allow_tcb_out_of_date_grace"`
	AcceptedKinds     []string `yaml:"accepted_kinds"`
	BindManifest      *bool    `yaml:"bind_manifest"`
	BindCode          *bool    `yaml:"bind_code"`
	FreshnessMaxAgeS  int64    `yaml:"freshness_max_age_s"`
	Strict            bool     `yaml:"strict"`
}

// LoadPolicy reads an AttestationPolicy from a YAML file. Missing keys keep
// the DefaultPolicy value, so an empty file is the production default.
func LoadPolicy(path string) (AttestationPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AttestationPolicy{}, errors.Wrap(errors.CodeAttestation, "read policy file", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses YAML policy bytes.
func ParsePolicy(data []byte) (AttestationPolicy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return AttestationPolicy{}, errors.Wrap(errors.CodeAttestation, "parse policy YAML", err)
	}
	p := DefaultPolicy()
	p.AllowDebug = f.AllowDebug
	if f.RequireChainOK != nil {
		p.RequireChainOK = *f.RequireChainOK
	}
	if f.RequireSigOK != nil {
		p.RequireSignatureOK = *f.RequireSigOK
	}
	if f.RequireTCBCurrent != nil {
		p.RequireTCBUpToDate = *f.RequireTCBCurrent
	}
	p.AllowTCBOutOfDate = f.AllowTCBOutOfDate
	for _, k := range f.AcceptedKinds {
		p.AcceptedKinds = append(p.AcceptedKinds, TEEKind(k))
	}
	if f.BindManifest != nil {
		p.BindManifest = *f.BindManifest
	}
	if f.BindCode != nil {
		p.BindCode = *f.BindCode
	}
	if f.FreshnessMaxAgeS > 0 {
		p.FreshnessMaxAge = time.Duration(f.FreshnessMaxAgeS) * time.Second
	}
	p.Strict = f.Strict
	return p, nil
}
