// Package balancer classifies SQL statements as reads or writes so they can
// be routed to a master or a slave.
package balancer

import (
	"fmt"
	"strings"
	"unicode"
)

type clusterMemberType string

const (
	Writable    = clusterMemberType("writable")
	NonWritable = clusterMemberType("non-writable")
)

var (
	writePrefixes = []string{
		"insert", "delete", "update", "replace", "create", "drop", "alter",
		"truncate", "rename", "grant", "revoke", "lock", "unlock", "begin",
		"start transaction", "commit", "rollback", "set", "call",
	}
	readPrefixes = []string{
		"select", "values", "with", "show", "describe", "desc", "explain",
	}
)

// Hint returns the template that forces the classification of a statement
// when it is put in front of it.
func Hint(t clusterMemberType) string {
	return fmt.Sprintf("{{%s}}", t)
}

// CheckIfRequiresWrite reports whether expr has to be executed on a master.
// A leading {{writable}} or {{non-writable}} hint overrides the detection
// and is stripped from the returned statement. Statements that are neither
// known reads nor known writes get _default.
func CheckIfRequiresWrite(expr string, _default bool) (string, bool) {
	trimmedS := strings.ToLower(strings.TrimLeftFunc(expr, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}))

	nonWritableTemplate := Hint(NonWritable)
	if isNonWritable := strings.HasPrefix(trimmedS, nonWritableTemplate); isNonWritable {
		return stripHint(expr, nonWritableTemplate), false
	}

	writableTemplate := Hint(Writable)
	if isWritable := strings.HasPrefix(trimmedS, writableTemplate); isWritable {
		return stripHint(expr, writableTemplate), true
	}

	// "select ... for update" locks rows and must see the master.
	if strings.HasPrefix(trimmedS, "select") && strings.Contains(trimmedS, " for update") {
		return expr, true
	}

	for _, prefix := range writePrefixes {
		if hasKeyword(trimmedS, prefix) {
			return expr, true
		}
	}
	for _, prefix := range readPrefixes {
		if hasKeyword(trimmedS, prefix) {
			return expr, false
		}
	}

	return expr, _default
}

func stripHint(expr, hint string) string {
	idx := strings.Index(strings.ToLower(expr), hint)
	return strings.TrimLeftFunc(expr[idx+len(hint):], unicode.IsSpace)
}

// hasKeyword reports whether s starts with the keyword followed by a
// non-letter, so "settings" does not match "set".
func hasKeyword(s, keyword string) bool {
	if !strings.HasPrefix(s, keyword) {
		return false
	}
	if len(s) == len(keyword) {
		return true
	}
	r := rune(s[len(keyword)])
	return !unicode.IsLetter(r) && r != '_'
}
