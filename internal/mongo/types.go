package mongo

import (
	"errors"
	"strconv"
	"strings"
)

// Config holds MongoDB connection settings.
type Config struct {
	URI string
	// ExcludeDatabases are dropped from $queryStats results.
	ExcludeDatabases []string
}

// ServerInfo holds basic server metadata.
type ServerInfo struct {
	Version string `json:"version"`
	Major   int    `json:"major"`
}

// RateLimitParameter is the server parameter that controls $queryStats sampling.
const RateLimitParameter = "internalQueryStatsRateLimit"

// ErrUnsupportedCommand is returned by Explain for shapes that are neither find nor aggregate.
var ErrUnsupportedCommand = errors.New("unsupported command")

// majorVersion parses the leading component of a version string such as "8.0.4".
func majorVersion(version string) int {
	head, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}
