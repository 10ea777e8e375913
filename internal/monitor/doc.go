// Package monitor renews managed certificates before they expire.
//
// A pass reads every certificate the inventory knows about: the root CA,
// each internal identity and each public domain. Anything with fewer than
// ThresholdDays left is reissued through the leaf issuer or the ACME
// orchestrator; the rest is recorded as skipped and not touched. The CA
// is only reported.
//
//	m := monitor.New(monitor.Options{
//	    Store:     store,
//	    Inventory: inv,
//	    Leaf:      issuer,
//	    Public:    orchestrator,
//	    Proxy:     drv,
//	    History:   history,
//	})
//	records, err := m.CheckAll(ctx)
//	if errors.Is(err, apperr.ErrCertificateExpired) {
//	    // something is past its not-after and stayed that way
//	}
//
// Scheduler repeats passes with a jittered interval, and History keeps
// the records in a BBolt database.
package monitor
