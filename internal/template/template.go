package template

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Template names
const (
	Chain     = "chain"
	Challenge = "challenge"
)

// ChainData is the data for the two-hop proxy chain template
type ChainData struct {
	Domain   string
	Upstream string
	Webroot  string
	Snippets string

	// Public hop
	PublicCert        string
	PublicKey         string
	ClientTrustBundle string
	VerifyClient      string // nginx value: off, optional or on

	// Internal hop
	ProxyCert           string
	ProxyKey            string
	InternalTrustBundle string
	BackendAddr         string
	BackendName         string

	// ErrorBody is returned with 502 when the backend cannot be reached
	ErrorBody string
}

// ChallengeData is the data for an HTTP-01 challenge snippet
type ChallengeData struct {
	Domain  string
	Token   string
	KeyAuth string
}

// Render renders the named template for a driver
func Render(driverName, name string, data any) (string, error) {
	set, err := driverTemplates(driverName)
	if err != nil {
		return "", err
	}
	tmpl := set.Lookup(name + ".tmpl")
	if tmpl == nil {
		return "", fmt.Errorf("template not found: %s/%s", driverName, name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}

// Available returns the template names embedded for a driver
func Available(driverName string) ([]string, error) {
	set, err := driverTemplates(driverName)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, t := range set.Templates() {
		if n, ok := strings.CutSuffix(t.Name(), ".tmpl"); ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}
