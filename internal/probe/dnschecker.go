package probe

import (
	"context"
	"net"
	"net/url"
	"time"
)

type DNSChecker struct {
	Resolver *net.Resolver
}

func NewDNSChecker() *DNSChecker {
	return &DNSChecker{}
}

func (d *DNSChecker) Check(ctx context.Context, target string) CheckResult {
	start := time.Now()
	dns := CheckDNS(ctx, d.Resolver, ExtractHost(target))
	return CheckResult{
		Name:      "DNS",
		Success:   dns.Usable(),
		Message:   dns.Class,
		LatencyMS: time.Since(start).Seconds() * 1000,
	}
}

// ExtractHost pulls the hostname from a URL string, or returns raw unchanged.
func ExtractHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
