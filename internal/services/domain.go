package services

import (
	"context"
	"net"
	"strings"
	"time"

	"wplaunch/internal/notify"
)

type DomainService struct {
	resolver *net.Resolver
	timeout  time.Duration
}

func NewDomainService() *DomainService {
	return &DomainService{resolver: &net.Resolver{}, timeout: 5 * time.Second}
}

// Preflight looks the job domain up before a deployment and reports where
// it points. The result is informational only: a fresh domain often does
// not resolve until DNS has propagated.
func (s *DomainService) Preflight(ctx context.Context, domain string, rep *notify.Reporter) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	addrs, err := s.resolver.LookupHost(ctx, domain)
	if err != nil || len(addrs) == 0 {
		rep.Info(domain + " does not resolve yet, the site will be reachable once DNS propagates")
		return
	}
	rep.Log(domain + " resolves to " + strings.Join(addrs, ", "))
}
