package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// Argument keys recognized as carrying a filesystem path or a URL.
var (
	pathArgKeys = map[string]bool{
		"path": true, "file": true, "filename": true, "filepath": true,
		"dir": true, "directory": true, "source": true, "src": true,
		"dest": true, "destination": true, "target": true,
	}
	urlArgKeys = map[string]bool{
		"url": true, "uri": true, "endpoint": true, "link": true, "href": true,
	}
)

// extractPaths returns every path-shaped string argument, sorted for
// deterministic fence derivation. A file-scheme URI contributes its
// path component, so file resources fence like plain paths.
func extractPaths(args map[string]any) []string {
	var paths []string
	for key, v := range args {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(s), "file://") {
			if u, err := url.Parse(s); err == nil && u.Path != "" {
				paths = append(paths, path.Clean(u.Path))
			}
			continue
		}
		if pathArgKeys[strings.ToLower(key)] || looksLikePath(s) {
			if !looksLikeURL(s) {
				paths = append(paths, path.Clean(s))
			}
		}
	}
	sort.Strings(paths)
	return paths
}

// extractDomains returns the hostname of every URL-shaped string
// argument, sorted.
func extractDomains(args map[string]any) []string {
	var domains []string
	for key, v := range args {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		if urlArgKeys[strings.ToLower(key)] || looksLikeURL(s) {
			u, err := url.Parse(s)
			if err != nil || u.Hostname() == "" {
				continue
			}
			switch u.Scheme {
			case "http", "https", "ws", "wss":
				domains = append(domains, strings.ToLower(u.Hostname()))
			}
		}
	}
	sort.Strings(domains)
	return domains
}

func looksLikePath(s string) bool {
	return strings.HasPrefix(s, "/") ||
		strings.HasPrefix(s, "./") ||
		strings.HasPrefix(s, "../") ||
		strings.HasPrefix(s, "~/")
}

func looksLikeURL(s string) bool {
	switch {
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"),
		strings.HasPrefix(s, "ws://"), strings.HasPrefix(s, "wss://"):
		return true
	default:
		return false
	}
}

// deriveFences computes the path and domain fences stored with a grant
// from the authorizing call's arguments. A path that names a file fences
// its directory, so sibling and nested files remain covered; a bare
// directory fences itself.
func deriveFences(args map[string]any) (paths, domains []string) {
	for _, p := range extractPaths(args) {
		if path.Ext(p) != "" {
			p = path.Dir(p)
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, extractDomains(args)
}

// argsSatisfy reports whether a new call's arguments fall inside the
// grant's fences. With no recognizable path or domain shape on either
// side, it falls back to an exact structural match against the
// authorizing call's arguments.
func argsSatisfy(g *Grant, args map[string]any) bool {
	if len(g.AllowedPaths) == 0 && len(g.AllowedDomains) == 0 {
		return hashArgs(args) == g.ArgsHash
	}

	paths := extractPaths(args)
	domains := extractDomains(args)
	if len(paths) == 0 && len(domains) == 0 {
		return hashArgs(args) == g.ArgsHash
	}

	for _, p := range paths {
		if !anyPathContains(g.AllowedPaths, p) {
			return false
		}
	}
	for _, d := range domains {
		if !anyDomainMatches(g.AllowedDomains, d) {
			return false
		}
	}
	return true
}

func anyPathContains(allowed []string, p string) bool {
	for _, a := range allowed {
		if pathWithin(a, p) {
			return true
		}
	}
	return false
}

// pathWithin reports whether child equals parent or is nested under it,
// respecting path separators so "/docs" does not cover "/docs-private".
func pathWithin(parent, child string) bool {
	parent = path.Clean(parent)
	child = path.Clean(child)
	if parent == child {
		return true
	}
	if parent == "/" {
		return strings.HasPrefix(child, "/")
	}
	return strings.HasPrefix(child, parent+"/")
}

func anyDomainMatches(allowed []string, domain string) bool {
	for _, a := range allowed {
		if a == domain {
			return true
		}
	}
	return false
}

// hashArgs produces a deterministic structural hash of the arguments:
// maps are serialized with sorted keys at every level, so two calls
// with the same shape hash identically regardless of map iteration.
func hashArgs(args map[string]any) string {
	var b strings.Builder
	writeCanonical(&b, args)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, v any) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(b, "%q:", k)
			writeCanonical(b, x[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	default:
		// Scalars round-trip through encoding/json for stable quoting.
		data, err := json.Marshal(x)
		if err != nil {
			fmt.Fprintf(b, "%q", fmt.Sprintf("%v", x))
			return
		}
		b.Write(data)
	}
}
