package util

import (
	"net/url"
	"strings"
)

// trackingParams are stripped from source URLs so that two registrations of
// the same menu page dedupe to the same base URL.
var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "gclid", "fbclid"}

// NormalizeURL canonicalizes a storefront URL: lowercases the host, drops a
// trailing slash on non-root paths, and removes tracking query parameters.
func NormalizeURL(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, err
	}

	parsedURL.Host = strings.ToLower(parsedURL.Host)
	if len(parsedURL.Path) > 1 && strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path = parsedURL.Path[:len(parsedURL.Path)-1]
		// Clear RawPath so String() regenerates the path without the slash
		parsedURL.RawPath = ""
	}

	queryParams := parsedURL.Query()
	for _, param := range trackingParams {
		queryParams.Del(param)
	}
	parsedURL.RawQuery = queryParams.Encode()
	return parsedURL.String(), nil
}

// knownTwoPartTLDs is a set of common two-part TLDs. Not exhaustive; a
// Public Suffix List lookup would be more thorough.
var knownTwoPartTLDs = map[string]bool{
	"co.uk": true, "com.au": true, "co.jp": true, "co.nz": true, "com.br": true,
	"org.uk": true, "gov.uk": true, "ac.uk": true, "com.mx": true, "com.sg": true,
	"co.in": true, "net.au": true, "org.au": true, "co.za": true, "com.es": true,
}

// RootDomain extracts the registrable domain from a URL, e.g.
// "https://shop.greenleaf.co.uk/menu" -> "greenleaf.co.uk".
func RootDomain(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(parsedURL.Hostname()), "www.")
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	lastTwo := strings.Join(parts[len(parts)-2:], ".")
	if knownTwoPartTLDs[lastTwo] && len(parts) >= 3 {
		return strings.Join(parts[len(parts)-3:], ".")
	}
	return lastTwo
}

// Origin returns the scheme://host[:port] portion of a URL, the cache key
// for robots.txt lookups.
func Origin(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return parsedURL.Scheme + "://" + parsedURL.Host, nil
}
