package profile

import (
	"errors"
	"fmt"
	"maps"

	"github.com/ppiankov/toolgate/internal/policy"
)

// ApplyToPolicy expands cfg.Profiles into ProfileDeny and ProfileAllow,
// which Compile places after every rule the file declares, so the file's
// deny, allow and rules: entries keep first match. Rule ids are prefixed
// with the profile name ("secrets.env-dump"). Returns a new config with
// Profiles cleared; the input is not mutated.
func ApplyToPolicy(cfg *policy.Config) (*policy.Config, error) {
	if cfg == nil || len(cfg.Profiles) == 0 {
		return cfg, nil
	}

	merged := *cfg
	merged.Profiles = nil
	merged.ProfileDeny = append([]policy.RuleDecl(nil), cfg.ProfileDeny...)
	merged.ProfileAllow = append([]policy.RuleDecl(nil), cfg.ProfileAllow...)

	seen := make(map[string]bool)
	for i, name := range cfg.Profiles {
		if seen[name] {
			continue
		}
		seen[name] = true

		p, err := Load(name)
		if err != nil {
			loc := fmt.Sprintf("profiles[%d]", i)
			if errors.Is(err, policy.ErrUnknownProfile) {
				return nil, &policy.ConfigError{Location: loc, Key: name, Err: policy.ErrUnknownProfile}
			}
			return nil, &policy.ConfigError{Location: loc, Key: name, Err: err}
		}
		merged.ProfileDeny = append(merged.ProfileDeny, prefixed(name, "deny", p.Deny)...)
		merged.ProfileAllow = append(merged.ProfileAllow, prefixed(name, "allow", p.Allow)...)
	}
	return &merged, nil
}

func prefixed(profile, class string, decls []policy.RuleDecl) []policy.RuleDecl {
	out := make([]policy.RuleDecl, 0, len(decls))
	for i, d := range decls {
		c := maps.Clone(d)
		id, _ := c["id"].(string)
		if id == "" {
			id = fmt.Sprintf("%s[%d]", class, i)
		}
		c["id"] = profile + "." + id
		out = append(out, c)
	}
	return out
}
