// Package passwordpolicy validates candidate passwords against an ordered set
// of composition rules and a blacklist of common passwords.
//
// Rules run in a fixed order and the first failure wins:
//
//  1. blacklist (case-insensitive)
//  2. minimum length, then maximum length
//  3. uppercase, lowercase, digit, special character (each when required)
//  4. estimated strength (when MinStrengthScore > 0)
package passwordpolicy

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// DefaultSpecialChars is the special-character set used when none is configured.
const DefaultSpecialChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// Reason identifies which rule rejected a password.
type Reason string

const (
	ReasonBlacklisted Reason = "blacklisted"
	ReasonTooShort    Reason = "too_short"
	ReasonTooLong     Reason = "too_long"
	ReasonUppercase   Reason = "uppercase"
	ReasonLowercase   Reason = "lowercase"
	ReasonNumber      Reason = "number"
	ReasonSpecial     Reason = "special"
	ReasonWeak        Reason = "weak"
)

// PolicyError reports a single rule violation. It matches common.ErrPolicy
// under errors.Is.
type PolicyError struct {
	Reason  Reason
	Message string
}

func (e *PolicyError) Error() string { return e.Message }

func (e *PolicyError) Unwrap() error { return common.ErrPolicy }

// Config is the immutable policy definition. Blacklist entries are compared
// against the lowercased candidate.
type Config struct {
	MinLength           int
	MaxLength           int
	RequireUppercase    bool
	RequireLowercase    bool
	RequireNumbers      bool
	RequireSpecialChars bool
	SpecialChars        string
	Blacklist           []string

	// MinStrengthScore is the minimum zxcvbn score (1-4); 0 disables the check.
	MinStrengthScore int
}

// DefaultConfig returns the stock policy: 10 to 15 characters with every
// character class required and an empty blacklist.
func DefaultConfig() Config {
	return Config{
		MinLength:           10,
		MaxLength:           15,
		RequireUppercase:    true,
		RequireLowercase:    true,
		RequireNumbers:      true,
		RequireSpecialChars: true,
		SpecialChars:        DefaultSpecialChars,
	}
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	if c.MinLength < 1 {
		return fmt.Errorf("password min length must be positive, got %d", c.MinLength)
	}
	if c.MaxLength < c.MinLength {
		return fmt.Errorf("password max length %d is below min length %d", c.MaxLength, c.MinLength)
	}
	if c.RequireSpecialChars && c.SpecialChars == "" {
		return fmt.Errorf("special characters are required but the set is empty")
	}
	if c.MinStrengthScore < 0 || c.MinStrengthScore > 4 {
		return fmt.Errorf("password strength score must be within 0..4, got %d", c.MinStrengthScore)
	}
	return nil
}

// Validator applies a Config. It is safe for concurrent use.
type Validator struct {
	cfg       Config
	blacklist map[string]struct{}
	special   map[rune]struct{}
}

// NewValidator copies cfg so later changes to the caller's slices do not
// affect validation.
func NewValidator(cfg Config) *Validator {
	v := &Validator{
		cfg:       cfg,
		blacklist: make(map[string]struct{}, len(cfg.Blacklist)),
		special:   make(map[rune]struct{}, len(cfg.SpecialChars)),
	}
	v.cfg.Blacklist = nil
	for _, w := range cfg.Blacklist {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			v.blacklist[w] = struct{}{}
		}
	}
	// set membership keeps characters such as ] ^ - literal
	for _, r := range cfg.SpecialChars {
		v.special[r] = struct{}{}
	}
	return v
}

// Config returns the policy in effect.
func (v *Validator) Config() Config {
	return v.cfg
}

// Validate returns nil or a *PolicyError for the first failing rule.
func (v *Validator) Validate(candidate string) error {
	if _, ok := v.blacklist[strings.ToLower(candidate)]; ok {
		return &PolicyError{Reason: ReasonBlacklisted, Message: "Password is too common. Please choose a more secure password."}
	}

	n := utf8.RuneCountInString(candidate)
	if n < v.cfg.MinLength {
		return &PolicyError{Reason: ReasonTooShort, Message: fmt.Sprintf("Password must be at least %d characters long", v.cfg.MinLength)}
	}
	if n > v.cfg.MaxLength {
		return &PolicyError{Reason: ReasonTooLong, Message: fmt.Sprintf("Password must not exceed %d characters", v.cfg.MaxLength)}
	}

	// Letter and digit classes are ASCII only; other scripts count toward
	// length but satisfy no class.
	var upper, lower, digit, special bool
	for _, r := range candidate {
		switch {
		case 'A' <= r && r <= 'Z':
			upper = true
		case 'a' <= r && r <= 'z':
			lower = true
		case '0' <= r && r <= '9':
			digit = true
		}
		if _, ok := v.special[r]; ok {
			special = true
		}
	}

	if v.cfg.RequireUppercase && !upper {
		return &PolicyError{Reason: ReasonUppercase, Message: "Password must contain at least one uppercase letter"}
	}
	if v.cfg.RequireLowercase && !lower {
		return &PolicyError{Reason: ReasonLowercase, Message: "Password must contain at least one lowercase letter"}
	}
	if v.cfg.RequireNumbers && !digit {
		return &PolicyError{Reason: ReasonNumber, Message: "Password must contain at least one number"}
	}
	if v.cfg.RequireSpecialChars && !special {
		return &PolicyError{Reason: ReasonSpecial, Message: "Password must contain at least one special character"}
	}

	if v.cfg.MinStrengthScore > 0 {
		if res := zxcvbn.PasswordStrength(candidate, nil); res.Score < v.cfg.MinStrengthScore {
			return &PolicyError{Reason: ReasonWeak, Message: "Password is too weak; choose a less predictable value"}
		}
	}

	return nil
}
