// Package matcher implements glob-style matching for refs and paths:
// '*' matches a run of characters excluding '/', '**' matches a run
// including '/', '?' matches exactly one character, and any other
// character matches itself literally.
package matcher

import (
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "matcher")

// MatchRef reports whether value (a ref, tag, or branch name) matches pattern.
// An ill-formed pattern never panics; it is logged and treated as a non-match.
func MatchRef(value, pattern string) bool {
	if value == pattern {
		return true
	}
	ok, err := globMatch(pattern, value, true)
	if err != nil {
		log.WithFields(logrus.Fields{"pattern": pattern, "value": value}).Warn("ill-formed ref pattern, treating as no-match")
		return false
	}
	return ok
}

// MatchPath reports whether path matches pattern using the same wildcard
// rules as MatchRef; "**/x" matches "x" at any depth.
func MatchPath(path, pattern string) bool {
	if path == pattern {
		return true
	}
	ok, err := globMatch(pattern, path, true)
	if err != nil {
		log.WithFields(logrus.Fields{"pattern": pattern, "path": path}).Warn("ill-formed path pattern, treating as no-match")
		return false
	}
	return ok
}

// MatchList reports whether value matches any pattern in patterns.
// A caller distinguishes "no filter configured" (nil/empty patterns meaning
// unconstrained) from "empty explicit list" at the call site; MatchList
// itself simply answers "does any pattern match" and returns false for an
// empty slice.
func MatchList(value string, patterns []string) bool {
	for _, p := range patterns {
		if MatchRef(value, p) {
			return true
		}
	}
	return false
}

// globMatch implements '*'/'**'/'?' glob semantics via a small recursive
// matcher over rune slices. slashSensitive selects whether a bare '*'
// excludes '/' (true for both refs and paths per the specification).
func globMatch(pattern, value string, slashSensitive bool) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched, err = false, errIllFormed
		}
	}()
	return matchHere([]rune(pattern), []rune(value), slashSensitive), nil
}

var errIllFormed = illFormedError{}

type illFormedError struct{}

func (illFormedError) Error() string { return "ill-formed pattern" }

// matchHere is a standard backtracking glob matcher extended with a
// "**" token that additionally consumes '/' characters.
func matchHere(pat, val []rune, slashSensitive bool) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case '*':
			// Collapse consecutive '*' and detect "**".
			doubleStar := len(pat) > 1 && pat[1] == '*'
			rest := pat[1:]
			if doubleStar {
				rest = pat[2:]
			}
			// "**/x" also matches "x" at zero depth (no leading directory).
			if doubleStar && len(rest) > 0 && rest[0] == '/' {
				if matchHere(rest[1:], val, slashSensitive) {
					return true
				}
			}
			// Try every split point; doubleStar may also consume '/'.
			for i := 0; i <= len(val); i++ {
				if !doubleStar && slashSensitive && strings.ContainsRune(string(val[:i]), '/') {
					break
				}
				if matchHere(rest, val[i:], slashSensitive) {
					return true
				}
			}
			return false
		case '?':
			if len(val) == 0 {
				return false
			}
			pat, val = pat[1:], val[1:]
		default:
			if len(val) == 0 || val[0] != pat[0] {
				return false
			}
			pat, val = pat[1:], val[1:]
		}
	}
	return len(val) == 0
}
