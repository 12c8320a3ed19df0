package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/extract"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/redact"
)

// Reserved rule keys. Everything else names a field constraint.
const (
	keyTool        = "tool"
	keyID          = "id"
	keyDescription = "description"
	keyEffect      = "effect"

	suffixRegex   = "_regex"
	suffixExclude = "_exclude_regex"
)

// Compile builds an immutable RuleSet from cfg. Any error fails the whole
// build; there is no partially compiled policy. Per class, rules come in
// this order: the deny/allow list, rules: entries, then expanded profile
// rules. Profiles must already be expanded into cfg (see
// profile.ApplyToPolicy); a remaining profile name is unknown by definition.
func Compile(cfg *Config) (*RuleSet, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if len(cfg.Profiles) > 0 {
		return nil, configErr("profiles[0]", cfg.Profiles[0], ErrUnknownProfile)
	}

	settings, err := audit.NewSettings(cfg.Audit.Level, cfg.Audit.Path, cfg.Audit.Format,
		cfg.Audit.RetentionDays, cfg.Audit.PruneSchedule)
	if err != nil {
		return nil, configErr("audit", "", err)
	}

	for i, a := range cfg.Alerts {
		if err := a.Validate(); err != nil {
			return nil, configErr(fmt.Sprintf("alerts[%d]", i), "", err)
		}
	}

	var redactor *redact.Redactor
	if cfg.Audit.Redact || len(cfg.Audit.RedactPatterns) > 0 {
		redactor, err = redact.New(cfg.Audit.RedactPatterns)
		if err != nil {
			return nil, configErr("audit", "redact_patterns", err)
		}
	}

	rs := &RuleSet{
		audit:    settings,
		redactor: redactor,
		alerts:   cfg.Alerts,
		hash:     cfg.Hash,
		source:   cfg.Source,
	}
	ids := make(map[string]string)

	add := func(decl RuleDecl, loc string, class model.Effect) error {
		target := &rs.deny
		if class == model.EffectAllow {
			target = &rs.allow
		}
		r, err := compileRule(decl, loc, class, len(*target))
		if err != nil {
			return err
		}
		if prev, dup := ids[r.Ref.ID]; dup {
			return configErr(loc, keyID, fmt.Errorf("%w: %q already used by %s", ErrDuplicateID, r.Ref.ID, prev))
		}
		ids[r.Ref.ID] = loc
		*target = append(*target, r)
		return nil
	}

	for i, decl := range cfg.Deny {
		if err := add(decl, fmt.Sprintf("deny[%d]", i), model.EffectDeny); err != nil {
			return nil, err
		}
	}
	for i, decl := range cfg.Allow {
		if err := add(decl, fmt.Sprintf("allow[%d]", i), model.EffectAllow); err != nil {
			return nil, err
		}
	}

	// rules: entries carry their own effect and append to that class.
	for i, decl := range cfg.Rules {
		loc := fmt.Sprintf("rules[%d]", i)
		raw, ok := decl[keyEffect]
		if !ok {
			return nil, configErr(loc, keyEffect, fmt.Errorf("%w: effect is required in rules", ErrUnknownEffect))
		}
		s, ok := raw.(string)
		if !ok {
			return nil, configErr(loc, keyEffect, ErrInvalidValue)
		}
		effect, err := model.ParseEffect(s)
		if err != nil {
			return nil, configErr(loc, keyEffect, fmt.Errorf("%w: %v", ErrUnknownEffect, err))
		}
		if err := add(decl, loc, effect); err != nil {
			return nil, err
		}
	}

	for i, decl := range cfg.ProfileDeny {
		if err := add(decl, fmt.Sprintf("profile deny[%d]", i), model.EffectDeny); err != nil {
			return nil, err
		}
	}
	for i, decl := range cfg.ProfileAllow {
		if err := add(decl, fmt.Sprintf("profile allow[%d]", i), model.EffectAllow); err != nil {
			return nil, err
		}
	}

	return rs, nil
}

type constraintKeys struct {
	literal    *string
	include    *string
	exclude    *string
	literalKey string
}

// compileRule turns one declaration into a Rule of the given class.
// index is the rule's position within its class.
func compileRule(decl RuleDecl, loc string, class model.Effect, index int) (*Rule, error) {
	str := func(key string) (string, bool, error) {
		raw, ok := decl[key]
		if !ok {
			return "", false, nil
		}
		s, ok := raw.(string)
		if !ok {
			return "", true, configErr(loc, key, fmt.Errorf("%w, got %T", ErrInvalidValue, raw))
		}
		return s, true, nil
	}

	tool, _, err := str(keyTool)
	if err != nil {
		return nil, err
	}
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return nil, configErr(loc, keyTool, ErrMissingTool)
	}

	if e, ok, err := str(keyEffect); err != nil {
		return nil, err
	} else if ok {
		effect, perr := model.ParseEffect(e)
		if perr != nil {
			return nil, configErr(loc, keyEffect, fmt.Errorf("%w: %v", ErrUnknownEffect, perr))
		}
		if effect != class {
			return nil, configErr(loc, keyEffect, fmt.Errorf("%w: %s rule in %s list", ErrEffectMismatch, effect, class))
		}
	}

	id, _, err := str(keyID)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = fmt.Sprintf("%s[%d]", class, index)
	}

	desc, _, err := str(keyDescription)
	if err != nil {
		return nil, err
	}

	schema, known := extract.Lookup(tool)

	keys := make([]string, 0, len(decl))
	for k := range decl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	byField := make(map[string]*constraintKeys)
	get := func(name string) *constraintKeys {
		if c, ok := byField[name]; ok {
			return c
		}
		c := &constraintKeys{}
		byField[name] = c
		return c
	}

	for _, key := range keys {
		switch key {
		case keyTool, keyID, keyDescription, keyEffect:
			continue
		}

		value, _, err := str(key)
		if err != nil {
			return nil, err
		}

		var field string
		switch {
		case strings.HasSuffix(key, suffixExclude):
			field = strings.TrimSuffix(key, suffixExclude)
		case strings.HasSuffix(key, suffixRegex):
			field = strings.TrimSuffix(key, suffixRegex)
		default:
			field = key
		}

		if field == "" || !known || !schema.Has(field) {
			if field == key {
				return nil, configErr(loc, key, fmt.Errorf("%w for tool %s", ErrUnknownKey, tool))
			}
			return nil, configErr(loc, key, fmt.Errorf("%w: %s has no field %q (fields: %s)",
				ErrUnknownField, tool, field, describeFields(schema, known)))
		}

		c := get(field)
		switch {
		case strings.HasSuffix(key, suffixExclude):
			if value == "" {
				return nil, configErr(loc, key, ErrEmptyPattern)
			}
			c.exclude = &value
		case strings.HasSuffix(key, suffixRegex):
			if value == "" {
				return nil, configErr(loc, key, ErrEmptyPattern)
			}
			c.include = &value
		default:
			c.literal = &value
			c.literalKey = key
		}
	}

	rule := &Rule{
		Ref: model.RuleRef{
			ID:          id,
			Effect:      class,
			Index:       index,
			Description: desc,
		},
		Tool: tool,
	}

	fields := make([]string, 0, len(byField))
	for f := range byField {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		c := byField[f]
		exclude := ""
		if c.exclude != nil {
			exclude = *c.exclude
			if _, err := regexp.Compile(exclude); err != nil {
				return nil, configErr(loc, f+suffixExclude, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, exclude, err))
			}
		}

		var (
			p       Pattern
			err     error
			literal bool
			key     string
		)
		switch {
		case c.literal != nil && c.include != nil:
			return nil, configErr(loc, f+suffixRegex, fmt.Errorf("%w: %s and %s", ErrConflictingKeys, c.literalKey, f+suffixRegex))
		case c.literal != nil:
			key, literal = c.literalKey, true
			p, err = LiteralPattern(*c.literal, exclude)
		case c.include != nil:
			key = f + suffixRegex
			p, err = CompilePattern(*c.include, exclude)
		default:
			return nil, configErr(loc, f+suffixExclude, ErrMissingInclude)
		}
		if err != nil {
			return nil, configErr(loc, key, err)
		}
		rule.Fields = append(rule.Fields, FieldConstraint{Name: f, Pattern: p, Literal: literal})
	}

	return rule, nil
}

func describeFields(s extract.Schema, known bool) string {
	if !known {
		return "none, tool has no schema"
	}
	return strings.Join(s.FieldNames(), ", ")
}
