// Package authz decides whether a principal may perform an action on a
// resource. Permissions are granted per role by a YAML policy. A request is
// allowed when some grant of the principal's role matches both the resource
// and the action and no denial of that role matches them.
package authz

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/shinyyama/shop-tracking/internal/model"
	"gopkg.in/yaml.v3"
)

var ErrDenied = errors.New("permission denied")

//go:embed policy.yaml
var defaultPolicy []byte

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID uint64
	Role   model.Role
}

type Rule struct {
	Resources []string `yaml:"resources"`
	Actions   []string `yaml:"actions"`
}

type RolePolicy struct {
	Grants  []Rule `yaml:"grants"`
	Denials []Rule `yaml:"denials"`
}

type Policy struct {
	Roles map[model.Role]RolePolicy `yaml:"roles"`
}

// DefaultPolicy returns the policy compiled into the binary.
func DefaultPolicy() (*Policy, error) {
	return ParsePolicy(defaultPolicy)
}

// LoadPolicy reads a policy file, falling back to the default policy when
// file is empty.
func LoadPolicy(file string) (*Policy, error) {
	if file == "" {
		return DefaultPolicy()
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if len(p.Roles) == 0 {
		return nil, errors.New("parse policy: no roles defined")
	}
	for role, rp := range p.Roles {
		for _, r := range append(append([]Rule{}, rp.Grants...), rp.Denials...) {
			if len(r.Resources) == 0 || len(r.Actions) == 0 {
				return nil, fmt.Errorf("parse policy: role %q has a rule without resources or actions", role)
			}
			for _, pat := range append(append([]string{}, r.Resources...), r.Actions...) {
				if _, err := path.Match(strings.TrimSuffix(pat, "/**"), ""); err != nil {
					return nil, fmt.Errorf("parse policy: role %q: bad pattern %q", role, pat)
				}
			}
		}
	}
	return &p, nil
}

type Gate struct {
	policy *Policy
}

func NewGate(p *Policy) *Gate {
	return &Gate{policy: p}
}

// Check returns nil when p may perform action on resource, ErrDenied otherwise.
func (g *Gate) Check(p Principal, resource, action string) error {
	if p.UserID == 0 {
		return ErrDenied
	}
	rp, ok := g.policy.Roles[p.Role]
	if !ok {
		return ErrDenied
	}
	for _, d := range rp.Denials {
		if d.matches(resource, action) {
			return ErrDenied
		}
	}
	for _, gr := range rp.Grants {
		if gr.matches(resource, action) {
			return nil
		}
	}
	return ErrDenied
}

func (r Rule) matches(resource, action string) bool {
	return matchAny(r.Resources, resource) && matchAny(r.Actions, action)
}

func matchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if MatchPattern(p, s) {
			return true
		}
	}
	return false
}

// MatchPattern matches s against a "/" separated glob. "*" and "?" follow
// path.Match and never cross a "/". "**" alone matches anything and a
// trailing "/**" matches the prefix itself or anything below it. Malformed
// patterns never match.
func MatchPattern(pattern, s string) bool {
	if pattern == "**" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		if matchGlob(prefix, s) {
			return true
		}
		depth := strings.Count(prefix, "/") + 1
		segments := strings.SplitN(s, "/", depth+1)
		if len(segments) <= depth || segments[depth] == "" {
			return false
		}
		return matchGlob(prefix, strings.Join(segments[:depth], "/"))
	}
	return matchGlob(pattern, s)
}

func matchGlob(pattern, s string) bool {
	ok, err := path.Match(pattern, s)
	return err == nil && ok
}
