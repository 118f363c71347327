package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// keyPrefix namespaces all page entries in Redis.
const keyPrefix = "retail-prices:page"

// PageKey identifies one page of one query.
type PageKey struct {
	// Endpoint is the API URL without query string
	Endpoint string

	// APIVersion is the api-version query parameter
	APIVersion string

	// Filter is the $filter expression, verbatim
	Filter string

	// Skip is the $skip pagination offset
	Skip int
}

// String generates a deterministic cache key.
// The filter is hashed because OData expressions contain spaces and quotes.
//
// Format: retail-prices:page:<version>:<sha256(endpoint|filter)[:16]>:<skip>
func (k PageKey) String() string {
	sum := sha256.Sum256([]byte(strings.TrimRight(k.Endpoint, "/") + "|" + k.Filter))
	version := k.APIVersion
	if version == "" {
		version = "none"
	}
	return fmt.Sprintf("%s:%s:%s:%d", keyPrefix, version, hex.EncodeToString(sum[:8]), k.Skip)
}
