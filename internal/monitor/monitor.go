package monitor

import (
	"context"
	"crypto/x509"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ksyq12/mtlsctl/internal/acme"
	"github.com/ksyq12/mtlsctl/internal/certstore"
	"github.com/ksyq12/mtlsctl/internal/config"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/logger"
	"github.com/ksyq12/mtlsctl/internal/pki"
)

const (
	// DefaultThresholdDays is the remaining lifetime below which a
	// certificate is renewed.
	DefaultThresholdDays = 30

	// DefaultConcurrency bounds parallel checks in one pass.
	DefaultConcurrency = 4
)

// LeafIssuer reissues internal certificates.
type LeafIssuer interface {
	Issue(ctx context.Context, req pki.IssueRequest) (*pki.Issued, error)
}

// PublicIssuer reissues public certificates.
type PublicIssuer interface {
	IssueOrRenew(ctx context.Context, req acme.Request) (*acme.Result, error)
}

// Reloader applies renewed certificates to the running proxy.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Recorder persists the records of a pass.
type Recorder interface {
	Append(records ...RenewalRecord) error
}

// Options configures a Monitor. Public, Proxy, Health and History are
// optional.
type Options struct {
	Store         *certstore.Store
	Inventory     *config.Inventory
	Leaf          LeafIssuer
	Public        PublicIssuer
	Proxy         Reloader
	Health        *HealthCheck
	History       Recorder
	ThresholdDays int
	Concurrency   int
}

// Monitor checks every managed certificate and renews those close to expiry.
type Monitor struct {
	store       *certstore.Store
	inventory   *config.Inventory
	leaf        LeafIssuer
	public      PublicIssuer
	proxy       Reloader
	health      *HealthCheck
	history     Recorder
	threshold   int
	concurrency int
	now         func() time.Time
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		store:       opts.Store,
		inventory:   opts.Inventory,
		leaf:        opts.Leaf,
		public:      opts.Public,
		proxy:       opts.Proxy,
		health:      opts.Health,
		history:     opts.History,
		threshold:   opts.ThresholdDays,
		concurrency: opts.Concurrency,
		now:         time.Now,
	}
	if m.threshold <= 0 {
		m.threshold = DefaultThresholdDays
	}
	if m.concurrency <= 0 {
		m.concurrency = DefaultConcurrency
	}
	return m
}

// Threshold returns the renewal threshold in days.
func (m *Monitor) Threshold() int {
	return m.threshold
}

// target is one certificate to check.
type target struct {
	kind    Kind
	subject string
	path    string
	renew   func(ctx context.Context) (time.Time, string, error)
}

// checked is the outcome of one target.
type checked struct {
	record  RenewalRecord
	expired bool
}

// CheckAll checks the CA, every identity and every public domain. A
// failure on one certificate is recorded and does not stop the others.
// The error is ErrCertificateExpired when an expired certificate could
// not be renewed.
func (m *Monitor) CheckAll(ctx context.Context) ([]RenewalRecord, error) {
	targets := m.targets()
	results := make([]checked, len(targets))

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = m.check(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	records := make([]RenewalRecord, 0, len(results))
	var expired []string
	renewed := false
	for _, r := range results {
		records = append(records, r.record)
		if r.expired {
			expired = append(expired, r.record.Subject)
		}
		if r.record.Outcome == OutcomeRenewed {
			renewed = true
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Key() < records[j].Key() })

	if renewed {
		m.applyRenewals(ctx)
	}

	if m.history != nil {
		if err := m.history.Append(records...); err != nil {
			logger.Warn("Failed to record renewal history: %v", err)
		}
	}

	if len(expired) > 0 {
		sort.Strings(expired)
		return records, apperr.New(apperr.ErrCodeExpired, strings.Join(expired, ", "),
			"certificate expired and could not be renewed", nil)
	}
	return records, nil
}

// applyRenewals reloads the proxy and smoke-tests the backend. Failures
// are logged; the certificates are already in place.
func (m *Monitor) applyRenewals(ctx context.Context) {
	if m.proxy != nil {
		if err := m.proxy.Reload(ctx); err != nil {
			logger.ErrorFields("proxy reload after renewal failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
	}
	if m.health != nil {
		if err := m.health.Check(ctx); err != nil {
			logger.ErrorFields("health check after renewal failed", map[string]interface{}{
				"url":   m.health.URL,
				"error": err.Error(),
			})
			return
		}
		logger.Info("Backend healthy after renewal")
	}
}

func (m *Monitor) targets() []target {
	targets := []target{{
		kind:    KindCA,
		subject: "ca",
		path:    m.store.CACertPath(),
	}}

	for _, id := range m.inventory.ListIdentities() {
		targets = append(targets, target{
			kind:    KindIdentity,
			subject: id.Name,
			path:    m.store.CertPath(id.Name),
			renew: func(ctx context.Context) (time.Time, string, error) {
				out, err := m.leaf.Issue(ctx, pki.IssueRequest{
					Name:         id.Name,
					Role:         id.Role,
					ValidityDays: id.ValidityDays,
					Hostnames:    id.Hostnames,
				})
				if err != nil {
					return time.Time{}, "", err
				}
				return out.Cert.NotAfter, "", nil
			},
		})
	}

	if m.public == nil {
		return targets
	}
	for _, d := range m.inventory.ListDomains() {
		path := d.CertPath
		if path == "" {
			path = m.store.PublicCertPath(d.Domain)
		}
		targets = append(targets, target{
			kind:    KindPublic,
			subject: d.Domain,
			path:    path,
			renew: func(ctx context.Context) (time.Time, string, error) {
				res, err := m.public.IssueOrRenew(ctx, acme.Request{
					Domain:     d.Domain,
					Email:      d.Email,
					Strategy:   d.Strategy,
					SelfSigned: d.SelfSigned,
				})
				if res == nil {
					return time.Time{}, "", err
				}
				// installed, but a cleanup step failed
				note := ""
				if err != nil {
					note = "; " + err.Error()
				}
				return res.NotAfter, note, nil
			},
		})
	}
	return targets
}

func (m *Monitor) check(ctx context.Context, t target) checked {
	now := m.now()
	rec := RenewalRecord{
		ID:        uuid.New(),
		Subject:   t.subject,
		Kind:      t.kind,
		Path:      t.path,
		CheckedAt: now.UTC(),
	}
	fields := map[string]interface{}{"kind": string(t.kind), "subject": t.subject}

	cert, err := readCert(m.store, t.path)
	missing := apperr.Is(err, apperr.ErrNotFound)
	if err != nil && !missing {
		return m.fail(rec, fields, fmt.Errorf("reading certificate: %w", err), false)
	}

	if t.kind == KindCA {
		return m.checkCA(rec, fields, cert, missing, now)
	}

	renewReason := "certificate missing"
	expired := false
	if cert != nil {
		rec.DaysRemaining = pki.DaysRemaining(cert, now)
		rec.OldNotAfter = cert.NotAfter.UTC()
		if rec.DaysRemaining >= m.threshold {
			rec.Outcome = OutcomeSkipped
			rec.Reason = fmt.Sprintf("%d days remaining", rec.DaysRemaining)
			logger.DebugFields("certificate not due", fields)
			return checked{record: rec}
		}
		expired = now.After(cert.NotAfter)
		renewReason = fmt.Sprintf("%d days remaining", rec.DaysRemaining)
		if expired {
			renewReason = "expired " + cert.NotAfter.UTC().Format(time.RFC3339)
		}
		logger.WarnFields("certificate near expiry", map[string]interface{}{
			"kind":           string(t.kind),
			"subject":        t.subject,
			"days_remaining": rec.DaysRemaining,
		})
	}

	if err := ctx.Err(); err != nil {
		return m.fail(rec, fields, err, expired)
	}

	notAfter, note, err := t.renew(ctx)
	if err != nil {
		return m.fail(rec, fields, fmt.Errorf("renewal failed: %w", err), expired)
	}
	rec.NewNotAfter = notAfter.UTC()
	if cert != nil && !notAfter.After(cert.NotAfter) {
		return m.fail(rec, fields, fmt.Errorf("replacement expires %s, not later than %s",
			rec.NewNotAfter.Format(time.RFC3339), rec.OldNotAfter.Format(time.RFC3339)), expired)
	}

	rec.Outcome = OutcomeRenewed
	rec.Reason = renewReason + "; valid until " + rec.NewNotAfter.Format(time.RFC3339) + note
	logger.InfoFields("certificate renewed", map[string]interface{}{
		"kind":      string(t.kind),
		"subject":   t.subject,
		"not_after": rec.NewNotAfter.Format(time.RFC3339),
	})
	return checked{record: rec}
}

// checkCA reports the root CA. It is never rotated here: rotation
// invalidates every issued leaf.
func (m *Monitor) checkCA(rec RenewalRecord, fields map[string]interface{}, cert *x509.Certificate, missing bool, now time.Time) checked {
	if missing {
		return m.fail(rec, fields, apperr.ErrCANotInitialized, false)
	}
	rec.DaysRemaining = pki.DaysRemaining(cert, now)
	rec.OldNotAfter = cert.NotAfter.UTC()
	if now.After(cert.NotAfter) {
		return m.fail(rec, fields, fmt.Errorf("CA expired %s and must be rotated manually",
			rec.OldNotAfter.Format(time.RFC3339)), true)
	}

	rec.Outcome = OutcomeSkipped
	rec.Reason = fmt.Sprintf("%d days remaining", rec.DaysRemaining)
	if rec.DaysRemaining < m.threshold {
		rec.Reason += "; rotate manually"
		logger.WarnFields("CA near expiry", map[string]interface{}{
			"subject":        rec.Subject,
			"days_remaining": rec.DaysRemaining,
		})
	}
	return checked{record: rec}
}

func (m *Monitor) fail(rec RenewalRecord, fields map[string]interface{}, err error, expired bool) checked {
	rec.Outcome = OutcomeFailed
	rec.Reason = err.Error()
	fields["error"] = rec.Reason
	logger.ErrorFields("certificate check failed", fields)
	return checked{record: rec, expired: expired}
}

func readCert(store *certstore.Store, path string) (*x509.Certificate, error) {
	if !store.Exists(path) {
		return nil, apperr.NotFound(path)
	}
	data, err := store.Read(path)
	if err != nil {
		return nil, err
	}
	return pki.ParseCertPEM(data)
}
