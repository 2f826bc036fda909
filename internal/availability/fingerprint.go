package availability

import (
	"strconv"
	"strings"

	"github.com/mitchellh/hashstructure/v2"
)

// Fingerprint returns a stable hash of an option-code set. Order does not
// matter; two tasks with the same options in any order share a fingerprint
// and therefore the same availability row and cache entry.
func Fingerprint(options []string) string {
	hash, err := hashstructure.Hash(options, hashstructure.FormatV2,
		&hashstructure.HashOptions{SlicesAsSets: true})
	if err != nil {
		// A []string cannot fail to hash.
		panic(err)
	}
	return strconv.FormatUint(hash, 16)
}

// normalizeOptions maps catalog option codes onto the fqn components the
// availability endpoint reports. Option codes carry the plan code as a
// suffix ("ram-64g-noecc-2133-24ska01"), fqn components do not
// ("24ska01.ram-64g-noecc-2133.softraid-2x480ssd").
func normalizeOptions(options []string, planCode string) []string {
	normalized := make([]string, 0, len(options))
	for _, option := range options {
		normalized = append(normalized, strings.TrimSuffix(option, "-"+planCode))
	}
	return normalized
}

// fqnOptions extracts the option components of an fqn, dropping the leading
// plan code.
func fqnOptions(fqn, planCode string) []string {
	parts := strings.Split(fqn, ".")
	options := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == planCode || part == "" {
			continue
		}
		options = append(options, part)
	}
	return options
}
