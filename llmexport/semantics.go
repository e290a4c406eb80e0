package llmexport

import (
	"fitdecode/fit/profile"
)

// invalidRuleForBase documents, in prose, which wire-level sentinel a
// base type uses to flag a value as unset. Attached to fields marked
// Invalid so a downstream reader doesn't have to consult the FIT spec
// to understand why a value was flagged.
func invalidRuleForBase(base BaseTypeInfo) string {
	switch base.Name {
	case "enum":
		return "0xFF sentinel"
	case "sint8":
		return "0x7F sentinel"
	case "uint8":
		return "0xFF sentinel"
	case "sint16":
		return "0x7FFF sentinel"
	case "uint16":
		return "0xFFFF sentinel"
	case "sint32":
		return "0x7FFFFFFF sentinel"
	case "uint32":
		return "0xFFFFFFFF sentinel"
	case "float32":
		return "0xFFFFFFFF bit-pattern sentinel"
	case "float64":
		return "0xFFFFFFFFFFFFFFFF bit-pattern sentinel"
	case "uint8z", "uint16z", "uint32z", "uint64z":
		return "0 sentinel"
	case "byte":
		return "all bytes 0xFF sentinel"
	case "string":
		return "empty string / NUL-only"
	default:
		return "see FIT base type sentinel rules"
	}
}

// globalMessageName resolves a global message number to its known name
// against the minimal profile table, falling back to a synthetic
// global_<n> label for message types the profile doesn't describe.
func globalMessageName(global uint16) string {
	return profile.MessageName(global)
}
