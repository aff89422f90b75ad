// Package robots fetches, parses and caches per-origin robots.txt policy and
// answers whether a user agent may fetch a URL.
package robots

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Rule is a single allow or disallow path pattern.
type Rule struct {
	Pattern string
	re      *regexp.Regexp
}

// Group holds the directives that apply to one or more user agents.
type Group struct {
	Agents        []string
	Allow         []Rule
	Disallow      []Rule
	CrawlDelay    time.Duration
	HasCrawlDelay bool
}

// Rules is the parsed policy document of one origin.
type Rules struct {
	Groups []Group
}

// Permissive is substituted when no policy can be determined.
func Permissive() Rules {
	return Rules{Groups: []Group{{
		Agents: []string{"*"},
		Allow:  []Rule{newRule("/")},
	}}}
}

// ParseString parses a robots.txt body.
func ParseString(body string) Rules {
	return Parse(strings.NewReader(body))
}

// Parse reads robots.txt directives line by line. Consecutive user-agent lines
// share a group; any other directive closes the agent list so that the next
// user-agent line starts a new group.
func Parse(r io.Reader) Rules {
	var (
		rules      Rules
		current    *Group
		collecting bool
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if current == nil || !collecting {
				rules.Groups = append(rules.Groups, Group{})
				current = &rules.Groups[len(rules.Groups)-1]
			}
			current.Agents = append(current.Agents, strings.ToLower(value))
			collecting = true
		case "allow":
			collecting = false
			if current != nil && value != "" {
				current.Allow = append(current.Allow, newRule(value))
			}
		case "disallow":
			collecting = false
			if current != nil && value != "" {
				current.Disallow = append(current.Disallow, newRule(value))
			}
		case "crawl-delay":
			collecting = false
			if current == nil {
				continue
			}
			if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
				current.CrawlDelay = (time.Duration(secs*float64(time.Second)) / time.Millisecond) * time.Millisecond
				current.HasCrawlDelay = true
			}
		}
	}
	return rules
}

// GroupFor selects the group for agent: an exact match first, then the
// wildcard group. It returns nil when neither exists.
func (r Rules) GroupFor(agent string) *Group {
	names := agentNames(agent)
	for i := range r.Groups {
		for _, a := range r.Groups[i].Agents {
			for _, n := range names {
				if a == n {
					return &r.Groups[i]
				}
			}
		}
	}
	for i := range r.Groups {
		for _, a := range r.Groups[i].Agents {
			if a == "*" {
				return &r.Groups[i]
			}
		}
	}
	return nil
}

// Evaluate applies the group to path. Disallow rules are checked first and
// the first match refuses the path even when an allow rule also matches.
func (g *Group) Evaluate(path string) crawler.Verdict {
	if g == nil {
		return crawler.Verdict{Allowed: true}
	}
	for _, rule := range g.Disallow {
		if rule.Matches(path) {
			return crawler.Verdict{Allowed: false, MatchedRule: "Disallow: " + rule.Pattern}
		}
	}
	verdict := crawler.Verdict{
		Allowed:       true,
		CrawlDelay:    g.CrawlDelay,
		HasCrawlDelay: g.HasCrawlDelay,
	}
	for _, rule := range g.Allow {
		if rule.Matches(path) {
			verdict.MatchedRule = "Allow: " + rule.Pattern
			break
		}
	}
	return verdict
}

// Matches reports whether path equals, starts with, or (for wildcard
// patterns) matches the rule.
func (r Rule) Matches(path string) bool {
	if r.Pattern == "" {
		return false
	}
	if r.re != nil {
		return r.re.MatchString(path)
	}
	return path == r.Pattern || strings.HasPrefix(path, r.Pattern)
}

func newRule(pattern string) Rule {
	rule := Rule{Pattern: pattern}
	if strings.Contains(pattern, "*") || strings.HasSuffix(pattern, "$") {
		rule.re = wildcardRegexp(pattern)
	}
	return rule
}

func wildcardRegexp(pattern string) *regexp.Regexp {
	anchored := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := "^" + strings.Join(parts, ".*")
	if anchored {
		expr += "$"
	}
	return regexp.MustCompile(expr)
}

// agentNames returns the lowered full agent string and its product token
// ("CatalogBot/1.0 (+url)" also matches a "catalogbot" group).
func agentNames(agent string) []string {
	full := strings.ToLower(strings.TrimSpace(agent))
	if full == "" {
		return nil
	}
	names := []string{full}
	token := full
	if idx := strings.IndexAny(token, "/ ("); idx > 0 {
		token = token[:idx]
	}
	if token != full {
		names = append(names, token)
	}
	return names
}
