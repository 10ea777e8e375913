// Package template renders proxy configuration from embedded Go templates.
//
// Templates are embedded in the binary using go:embed and organized by
// driver:
//
//	nginx/chain.tmpl      two-hop TLS chain for one domain
//	nginx/challenge.tmpl  HTTP-01 token response included by the port 80 server
//
// # Rendering Templates
//
//	content, err := template.Render("nginx", template.Chain, template.ChainData{
//	    Domain:      "example.org",
//	    Upstream:    "mtlsctl_example_org",
//	    PublicCert:  "/etc/mtlsctl/identities/public/example.org.crt",
//	    ...
//	})
//
// # Custom Functions
//
// Templates have access to these functions:
//   - replace: strings.ReplaceAll for string manipulation
package template
