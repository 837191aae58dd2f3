// Package vhost maps an inbound Host header to a target app, following
// spec §4.5: exact match beats wildcard; a wildcard of the form "*.domain"
// captures the leading label(s) as a tenant and never matches the bare
// domain itself.
package vhost

import "strings"

// Entry is one configured virtual-host mapping.
type Entry struct {
	App        string
	PathPrefix string
}

// Match is the resolved result of a lookup.
type Match struct {
	App        string
	PathPrefix string
	Tenant     string
}

// Table is an immutable-after-build host -> Entry mapping, built once at
// config load (or mutated through the vhost-admin plugin's CRUD surface,
// which owns its own synchronization).
type Table struct {
	exact    map[string]Entry
	wildcard map[string]Entry // keyed by the suffix domain, e.g. "sked.ly"
}

// NewTable builds a Table from a host-pattern -> Entry map, exactly as
// found in a runtime config file or the vhost-admin plugin's store.
func NewTable(patterns map[string]Entry) *Table {
	t := &Table{exact: map[string]Entry{}, wildcard: map[string]Entry{}}
	for pattern, entry := range patterns {
		t.Set(pattern, entry)
	}
	return t
}

// Set adds or replaces one pattern's mapping.
func (t *Table) Set(pattern string, entry Entry) {
	if strings.HasPrefix(pattern, "*.") {
		t.wildcard[strings.TrimPrefix(pattern, "*.")] = entry
		return
	}
	t.exact[pattern] = entry
}

// Delete removes one pattern's mapping.
func (t *Table) Delete(pattern string) {
	if strings.HasPrefix(pattern, "*.") {
		delete(t.wildcard, strings.TrimPrefix(pattern, "*."))
		return
	}
	delete(t.exact, pattern)
}

// Patterns returns every configured pattern string, for admin listing.
func (t *Table) Patterns() []string {
	out := make([]string, 0, len(t.exact)+len(t.wildcard))
	for p := range t.exact {
		out = append(out, p)
	}
	for d := range t.wildcard {
		out = append(out, "*."+d)
	}
	return out
}

// Resolve maps host (already stripped of any port) to a Match, or nil if
// nothing matches. Exact match always wins over wildcard.
func (t *Table) Resolve(host string) *Match {
	host = stripPort(host)

	if e, ok := t.exact[host]; ok {
		return &Match{App: e.App, PathPrefix: e.PathPrefix}
	}

	for domain, e := range t.wildcard {
		suffix := "." + domain
		if host == domain {
			// "*.domain" never matches the bare domain itself.
			continue
		}
		if strings.HasSuffix(host, suffix) {
			tenant := strings.TrimSuffix(host, suffix)
			if tenant == "" {
				continue
			}
			return &Match{App: e.App, PathPrefix: e.PathPrefix, Tenant: tenant}
		}
	}
	return nil
}

func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i != -1 {
		// Guard against bare IPv6 addresses ("::1") which contain colons
		// that are not a port separator; a real port separator is preceded
		// by a closing bracket for bracketed IPv6 literals, or there are no
		// other colons for a plain hostname/IPv4 host.
		if strings.Count(host, ":") == 1 {
			return host[:i]
		}
	}
	return host
}
