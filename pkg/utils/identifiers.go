package utils

import (
	"unicode"
)

// reservedWords cannot be bound as variable names in strict-mode JavaScript.
//
//nolint:gochecknoglobals // lookup table
var reservedWords = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true, "continue": true,
	"debugger": true, "default": true, "delete": true, "do": true, "else": true, "enum": true,
	"export": true, "extends": true, "false": true, "finally": true, "for": true, "function": true,
	"if": true, "implements": true, "import": true, "in": true, "instanceof": true, "interface": true,
	"let": true, "new": true, "null": true, "package": true, "private": true, "protected": true,
	"public": true, "return": true, "static": true, "super": true, "switch": true, "this": true,
	"throw": true, "true": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true, "yield": true, "await": true, "arguments": true, "eval": true,
	"undefined": true, "NaN": true, "Infinity": true,
}

// IsValidIdentifier reports whether name can be bound as a top-level JavaScript identifier.
func IsValidIdentifier(name string) bool {
	if name == "" || reservedWords[name] {
		return false
	}
	for i, r := range name {
		switch {
		case r == '$' || r == '_':
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)):
		default:
			return false
		}
	}
	return true
}

// StripInvalidIdentifiers returns a copy of vars without keys that are not legal identifiers.
func StripInvalidIdentifiers(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		if IsValidIdentifier(k) {
			out[k] = v
		}
	}
	return out
}
