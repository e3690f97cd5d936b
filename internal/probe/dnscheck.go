package probe

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// DNS failure classes reported in probe errors.
const (
	DNSNXDomain      = "NXDOMAIN"
	DNSNoRecord      = "NO_A_RECORD"
	DNSServfailOrTTL = "SERVFAIL_or_TIMEOUT"
)

// describeError turns a transport failure into the probe's error string.
// Deadline hits read as "timeout" unless the caller itself was cancelled.
func describeError(parent context.Context, err error) string {
	if parent.Err() != nil {
		return "canceled: " + parent.Err().Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		return "dns: " + classifyDNS(de) + " " + de.Name
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err.Error()
	}
	return err.Error()
}

func classifyDNS(de *net.DNSError) string {
	switch {
	case de.IsNotFound:
		return DNSNXDomain
	case de.IsTemporary || de.IsTimeout:
		return DNSServfailOrTTL
	}
	return DNSNoRecord
}
