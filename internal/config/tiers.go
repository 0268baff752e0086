package config

import (
	"net/url"
	"strings"

	"github.com/user/checkmate/internal/types"
)

var tierADomains = []string{
	"wikipedia.org",
	"britannica.com",
	"nature.com",
	"science.org",
	"nejm.org",
	"who.int",
	"cdc.gov",
}

var tierBDomains = []string{
	"reuters.com",
	"ap.org",
	"bbc.com",
	"npr.org",
	"pbs.org",
	"factcheck.org",
	"snopes.com",
}

var tierCDomains = []string{
	"youtube.com",
	"twitter.com",
	"facebook.com",
	"instagram.com",
	"tiktok.com",
}

// TierForURL classifies a source URL by domain. Unmatched domains default
// to tier B; empty or unparseable URLs fall to tier C.
func TierForURL(rawURL string) types.SourceTier {
	if rawURL == "" {
		return types.TierC
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return types.TierC
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	for _, d := range tierCDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return types.TierC
		}
	}
	for _, d := range tierADomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return types.TierA
		}
	}
	for _, d := range tierBDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return types.TierB
		}
	}
	return types.TierB
}
