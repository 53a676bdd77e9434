package secure

import (
	"regexp"

	cacheerrors "github.com/vaultcache/vaultcache/pkg/errors"
)

// Operation identifies a cache operation subject to access control.
type Operation string

const (
	OpGet    Operation = "get"
	OpSet    Operation = "set"
	OpDelete Operation = "delete"
	OpClear  Operation = "clear"
)

// AccessConfig configures an AccessController.
type AccessConfig struct {
	// AllowedOperations lists permitted operations. Empty means all allowed.
	AllowedOperations []Operation

	// RestrictedKeys are exact keys denied for every operation.
	RestrictedKeys []string

	// RestrictedPatterns are regular expressions; any match denies the key.
	RestrictedPatterns []string
}

// AccessController answers "is this operation allowed on this key".
type AccessController struct {
	allowed        map[Operation]bool
	restrictedKeys map[string]bool
	patterns       []*regexp.Regexp
}

// NewAccessController compiles an AccessConfig. Invalid restricted patterns
// surface CONFIGURATION_ERROR.
func NewAccessController(cfg AccessConfig) (*AccessController, error) {
	ac := &AccessController{
		restrictedKeys: make(map[string]bool, len(cfg.RestrictedKeys)),
	}

	if len(cfg.AllowedOperations) > 0 {
		ac.allowed = make(map[Operation]bool, len(cfg.AllowedOperations))
		for _, op := range cfg.AllowedOperations {
			ac.allowed[op] = true
		}
	}

	for _, key := range cfg.RestrictedKeys {
		ac.restrictedKeys[key] = true
	}

	for _, pattern := range cfg.RestrictedPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, cacheerrors.Newf(cacheerrors.ErrCodeConfiguration,
				"invalid restricted pattern %q", pattern).WithCause(err)
		}
		ac.patterns = append(ac.patterns, re)
	}

	return ac, nil
}

// Allow returns nil when the operation is permitted on the key, or an
// ACCESS_DENIED error otherwise. Clear carries no key.
func (ac *AccessController) Allow(op Operation, key string) error {
	if ac.allowed != nil && !ac.allowed[op] {
		return cacheerrors.Newf(cacheerrors.ErrCodeAccessDenied,
			"operation %q is not permitted", op).WithOperation(string(op)).WithKey(key)
	}

	if key != "" {
		if ac.restrictedKeys[key] {
			return cacheerrors.Newf(cacheerrors.ErrCodeAccessDenied,
				"key is restricted").WithOperation(string(op)).WithKey(key)
		}
		for _, re := range ac.patterns {
			if re.MatchString(key) {
				return cacheerrors.Newf(cacheerrors.ErrCodeAccessDenied,
					"key matches restricted pattern %q", re.String()).WithOperation(string(op)).WithKey(key)
			}
		}
	}

	return nil
}
