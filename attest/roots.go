package attest

import (
	"bytes"
	"crypto/x509"
	"os"

	"github.com/animicaorg/animica-core/errors"
)

// VendorRoots holds the pinned vendor root certificates loaded once at
// process start. All fields are optional: a nil root means chain walks for
// that vendor terminate leniently at the top of the supplied bundle.
type VendorRoots struct {
	IntelSGX *x509.Certificate
	AMDARK   *x509.Certificate
	ArmCCA   *x509.Certificate
	QPURoot  *x509.Certificate
}

// LoadRootPEM parses the first CERTIFICATE block in a PEM file.
func LoadRootPEM(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeAttestation, "read root PEM", err)
	}
	return ParseRootPEM(data)
}

// ParseRootPEM parses the first CERTIFICATE block in a PEM bundle.
func ParseRootPEM(data []byte) (*x509.Certificate, error) {
	certs := ParseCertificatesPEM(data)
	if len(certs) == 0 {
		return nil, errors.Attestation("no certificate in PEM bundle")
	}
	return certs[0], nil
}

// WalkChain performs the basic issuer->subject signature walk from
// leaf through the supplied intermediates up to the pinned root. It is not a
// full PKI path validator: no name constraints, no CRLs, no cross-signing.
// A nil root makes the walk lenient: it succeeds once no parent is found.
func WalkChain(leaf *x509.Certificate, intermediates []*x509.Certificate, root *x509.Certificate) bool {
	bySubject := make(map[string]*x509.Certificate, len(intermediates)+1)
	for _, c := range intermediates {
		bySubject[string(c.RawSubject)] = c
	}
	if root != nil {
		bySubject[string(root.RawSubject)] = root
	}

	curr := leaf
	for depth := 0; depth < 16; depth++ {
		if bytes.Equal(curr.RawIssuer, curr.RawSubject) {
			// Self-signed top. Anchor to the pinned root when present.
			if root != nil && !bytes.Equal(curr.Raw, root.Raw) {
				return false
			}
			return curr.CheckSignatureFrom(curr) == nil
		}
		parent, ok := bySubject[string(curr.RawIssuer)]
		if !ok {
			// Unreached root: fail when one was pinned, pass leniently
			// otherwise.
			return root == nil
		}
		if err := curr.CheckSignatureFrom(parent); err != nil {
			return false
		}
		curr = parent
	}
	return false
}
