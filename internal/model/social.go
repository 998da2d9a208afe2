package model

import (
	"net/url"
	"strings"
)

// MaxSocialLinks bounds how many social links a record carries.
const MaxSocialLinks = 10

// SocialDomains is the allow-list of social and review hosts. Subdomains
// (www., m., business.) are accepted.
var SocialDomains = []string{
	"facebook.com", "fb.com",
	"instagram.com",
	"twitter.com", "x.com",
	"linkedin.com",
	"yelp.com",
	"youtube.com", "youtu.be",
	"tiktok.com",
	"pinterest.com",
	"threads.net",
}

// IsSocialURL reports whether raw is an http(s) URL on an allowed host.
func IsSocialURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range SocialDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// FilterSocialLinks keeps allowed URLs, dropping case-insensitive duplicates,
// and caps the list at MaxSocialLinks. The result is never nil.
func FilterSocialLinks(links []string) []string {
	out := make([]string, 0, len(links))
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		l = strings.TrimSpace(l)
		key := strings.ToLower(l)
		if l == "" || seen[key] || !IsSocialURL(l) {
			continue
		}
		seen[key] = true
		out = append(out, l)
		if len(out) == MaxSocialLinks {
			break
		}
	}
	return out
}
