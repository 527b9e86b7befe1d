package fetcher

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ezalhq/radar/internal/util"
)

// robotsRules is the parsed disallow set that applied to our user agent.
type robotsRules struct {
	disallow []string
}

// Allows reports whether the given path survives the disallow prefixes.
func (r robotsRules) Allows(path string) bool {
	if path == "" {
		path = "/"
	}
	for _, prefix := range r.disallow {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

type robotsEntry struct {
	rules     robotsRules
	fetchedAt time.Time
}

// RobotsCache caches parsed robots.txt rules per origin with a TTL. It is an
// injectable component (not a package singleton) so tests control time and
// multiple engine instances don't share hidden state. Concurrent access is
// safe; refresh races are last-writer-wins, acceptable because robots rules
// change rarely and a stale read is harmless.
type RobotsCache struct {
	mu      sync.RWMutex
	entries map[string]robotsEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewRobotsCache(ttl time.Duration) *RobotsCache {
	return &RobotsCache{
		entries: make(map[string]robotsEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock overrides the cache clock. Tests only.
func (c *RobotsCache) WithClock(now func() time.Time) *RobotsCache {
	c.now = now
	return c
}

func (c *RobotsCache) get(origin string) (robotsRules, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[origin]
	if !ok || c.now().Sub(entry.fetchedAt) > c.ttl {
		return robotsRules{}, false
	}
	return entry.rules, true
}

func (c *RobotsCache) put(origin string, rules robotsRules) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[origin] = robotsEntry{rules: rules, fetchedAt: c.now()}
}

// CheckRobots reports whether our agent may fetch the given URL per the
// origin's robots.txt. Any failure fetching or parsing robots.txt is treated
// as allowed (fail-open): a transient robots-endpoint error must not stall
// discovery.
func (f *Fetcher) CheckRobots(ctx context.Context, rawURL string) bool {
	origin, err := util.Origin(rawURL)
	if err != nil {
		return true
	}
	path := pathOf(rawURL)

	if rules, ok := f.robots.get(origin); ok {
		return rules.Allows(path)
	}

	rules := f.fetchRobots(ctx, origin)
	f.robots.put(origin, rules)
	return rules.Allows(path)
}

func (f *Fetcher) fetchRobots(ctx context.Context, origin string) robotsRules {
	ctx, cancel := context.WithTimeout(ctx, f.robotsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return robotsRules{}
	}
	req.Header.Set("User-Agent", f.userAgent)

	res, err := f.client.Do(req)
	if err != nil {
		slog.Debug("robots.txt fetch failed, failing open", "origin", origin, "error", err)
		return robotsRules{}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return robotsRules{}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 512*1024))
	if err != nil {
		return robotsRules{}
	}
	return parseRobots(string(body), f.agentToken())
}

// agentToken is the product token matched against User-agent groups, i.e.
// "EzalRadarBot" out of "EzalRadarBot/1.0 (+https://...)".
func (f *Fetcher) agentToken() string {
	token := f.userAgent
	if i := strings.IndexAny(token, "/ "); i > 0 {
		token = token[:i]
	}
	return token
}

// parseRobots extracts the disallow prefixes that apply to agentToken.
// Groups are selected when their User-agent is "*" or contains the token
// case-insensitively. Allow lines and wildcards are not interpreted; the
// matching model is plain path-prefix, per our conservative crawl policy.
func parseRobots(body, agentToken string) robotsRules {
	var rules robotsRules
	token := strings.ToLower(agentToken)

	scanner := bufio.NewScanner(strings.NewReader(body))
	applies := false
	sawAgentLine := false
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent":
			agent := strings.ToLower(value)
			match := agent == "*" || strings.Contains(agent, token)
			if sawAgentLine {
				// Consecutive User-agent lines extend the same group.
				applies = applies || match
			} else {
				applies = match
			}
			sawAgentLine = true
		case "disallow":
			if applies && value != "" {
				rules.disallow = append(rules.disallow, value)
			}
			sawAgentLine = false
		default:
			sawAgentLine = false
		}
	}
	return rules
}

func pathOf(rawURL string) string {
	origin, err := util.Origin(rawURL)
	if err != nil {
		return "/"
	}
	path := strings.TrimPrefix(rawURL, origin)
	if path == "" {
		return "/"
	}
	return path
}
