package api

import (
	"strings"

	"github.com/voslund/decoynet/internal/errx"
)

// ParseBaitCredentials parses CLI/env bait specs of the form user:pass.
func ParseBaitCredentials(specs []string) ([]Credential, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	creds := make([]Credential, 0, len(specs))
	for _, spec := range specs {
		cred, err := ParseBaitCredential(spec)
		if err != nil {
			return nil, errx.With(err, " in %q", spec)
		}
		creds = append(creds, cred)
	}

	return creds, nil
}

func ParseBaitCredential(spec string) (Credential, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Credential{}, errx.With(ErrBaitCredentialSpec, ": empty spec")
	}

	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return Credential{}, errx.With(ErrBaitCredentialSpec, ": %q (expected user:password)", spec)
	}

	cred := Credential{
		Username: strings.TrimSpace(parts[0]),
		Password: parts[1],
	}
	if cred.Username == "" {
		return Credential{}, errx.With(ErrBaitCredentialSpec, ": empty username")
	}
	if strings.ContainsAny(cred.Username, " \t\n\r") {
		return Credential{}, errx.With(ErrBaitCredentialSpec, ": username %q contains whitespace", cred.Username)
	}
	return cred, nil
}
