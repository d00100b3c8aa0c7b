package model

import "strings"

// OwnerMatches implements property P7: owner comparison is case-insensitive
// hex, and an empty record owner matches any caller.
func OwnerMatches(recordOwner, caller string) bool {
	if recordOwner == "" {
		return true
	}
	return strings.EqualFold(recordOwner, caller)
}
