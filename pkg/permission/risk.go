package permission

import (
	"strings"
	"unicode"
)

// Keyword sets for the cumulative risk rules. Matching is on whole
// words from the tool name, description, and argument keys, so "prune"
// does not trigger on "run" and "keyboard" does not trigger on "key".
var (
	fileKeywords = []string{"file", "files", "read", "write", "path", "directory", "folder", "disk"}

	modifyKeywords = []string{"delete", "remove", "write", "modify", "update", "truncate", "overwrite"}

	networkKeywords = []string{"fetch", "http", "https", "url", "download", "upload", "request"}

	systemKeywords = []string{"exec", "execute", "command", "shell", "run", "spawn", "terminal"}

	sensitiveKeywords = []string{"secret", "secrets", "password", "passwords", "token", "tokens", "credential", "credentials", "key", "keys", "apikey"}
)

// Assess classifies an invocation into a risk level with accumulated
// reasons. It is a pure function of the tool name, description, and
// call arguments: identical inputs always yield identical output,
// including ordering.
func Assess(tool ToolRef, args map[string]any) Assessment {
	words := tokenize(tool.Name + " " + tool.Description)

	var a Assessment
	a.Level = RiskLow
	raise := func(level RiskLevel, cat Category, reason string) {
		if level > a.Level {
			a.Level = level
		}
		a.Reasons = append(a.Reasons, reason)
		if !a.HasCategory(cat) {
			a.Categories = append(a.Categories, cat)
		}
	}

	if hasAny(words, fileKeywords) || len(extractPaths(args)) > 0 {
		raise(RiskMedium, CategoryFile, "File system access")
	}
	if hasAny(words, modifyKeywords) {
		raise(RiskHigh, CategoryFile, "Data modification")
	}
	if hasAny(words, networkKeywords) || len(extractDomains(args)) > 0 {
		raise(RiskMedium, CategoryNetwork, "Network access")
	}
	if hasAny(words, systemKeywords) {
		raise(RiskHigh, CategorySystem, "System command execution")
	}
	if hasAny(words, sensitiveKeywords) || hasSensitiveArgKey(args) {
		raise(RiskHigh, CategorySystem, "Sensitive data access")
	}

	return a
}

// tokenize lowercases the text and splits it into words on every
// non-alphanumeric rune, so snake_case, kebab-case, and prose all
// yield comparable tokens.
func tokenize(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make(map[string]bool, len(fields))
	for _, f := range fields {
		words[f] = true
	}
	return words
}

func hasAny(words map[string]bool, keywords []string) bool {
	for _, k := range keywords {
		if words[k] {
			return true
		}
	}
	return false
}

func hasSensitiveArgKey(args map[string]any) bool {
	for key := range args {
		if hasAny(tokenize(key), sensitiveKeywords) {
			return true
		}
	}
	return false
}
