package filter

import (
	"context"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/solatis/abusefilter/internal/types"
	"github.com/solatis/abusefilter/internal/vars"
)

// blockedDomains returns the hosts of newly added links that are in the
// blocked domain set, directly or through a parent domain. Lookup failures
// are logged and let the action through.
func (r *Runner) blockedDomains(ctx context.Context, ac *types.ActionContext, store *vars.Store, logger *slog.Logger) []string {
	if r.sets == nil || r.cfg.BlockedDomainSet == "" || ac.Kind != types.ActionEdit {
		return nil
	}
	links, err := store.Get(ctx, "added_links")
	if err != nil {
		logger.Warn("blocked domain check skipped", "err", err)
		return nil
	}
	var blocked []string
	for _, link := range links.Items() {
		host := linkHost(link.AsString())
		if host == "" || slices.Contains(blocked, host) {
			continue
		}
		for _, cand := range domainAndParents(host) {
			ok, err := r.sets.InSet(ctx, r.cfg.BlockedDomainSet, cand)
			if err != nil {
				logger.Warn("blocked domain lookup failed", "host", host, "err", err)
				break
			}
			if ok {
				blocked = append(blocked, host)
				break
			}
		}
	}
	return blocked
}

func linkHost(link string) string {
	if strings.HasPrefix(link, "//") {
		link = "http:" + link
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// domainAndParents lists host and every parent domain with at least two
// labels: a.b.example.com, b.example.com, example.com.
func domainAndParents(host string) []string {
	labels := strings.Split(host, ".")
	out := []string{host}
	for i := 1; i < len(labels)-1; i++ {
		out = append(out, strings.Join(labels[i:], "."))
	}
	return out
}
