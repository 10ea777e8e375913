package acme

import (
	"context"
	"errors"
	"strings"

	legoacme "github.com/go-acme/lego/v4/acme"

	apperr "github.com/ksyq12/mtlsctl/internal/errors"
)

const rateLimitedType = "urn:ietf:params:acme:error:rateLimited"

// classify maps remote issuer failures onto the error taxonomy. Obtain
// aggregates per-domain errors into a map type, so the problem type is
// also matched on the message.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ce *apperr.CertError
	if errors.As(err, &ce) {
		return err
	}

	var problem *legoacme.ProblemDetails
	if errors.As(err, &problem) && problem.Type == rateLimitedType {
		return apperr.Wrap(apperr.ErrCodeRateLimited, "remote issuer rate limited the request", err)
	}
	if strings.Contains(err.Error(), rateLimitedType) {
		return apperr.Wrap(apperr.ErrCodeRateLimited, "remote issuer rate limited the request", err)
	}
	return apperr.Wrap(apperr.ErrCodeRemoteRejected, "remote issuer rejected the request", err)
}
