// Package config loads and validates the rollout manifest: which stack sets
// exist, how they address their targets, and the operation preferences the
// remote calls carry verbatim.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"gopkg.in/yaml.v3"

	"github.com/example/stackseed/internal/rollout"
)

// Manifest is the top-level rollout configuration document.
type Manifest struct {
	Stacks []Stack `yaml:"stacks"`
}

// Stack declares one stack set and its desired rollout state.
type Stack struct {
	Name             string                `yaml:"name"`
	TemplateURL      string                `yaml:"template_url"`
	TemplateChecksum string                `yaml:"template_checksum"`
	RolloutStrategy  string                `yaml:"rollout_strategy"`
	CallAs           string                `yaml:"call_as"`
	AdminRoleARN     string                `yaml:"admin_role_arn"`
	ExecRoleName     string                `yaml:"exec_role_name"`
	Preferences      *OperationPreferences `yaml:"operation_preferences"`
	AutoDeploy       *AutoDeploy           `yaml:"rollout_autodeploy"`
	Rollout          []RolloutEntry        `yaml:"rollout"`
	Parameters       map[string]any        `yaml:"parameters"`
	Tags             map[string]string     `yaml:"tags"`
}

// RolloutEntry is one desired target with its regions and overrides.
// Exactly one of Account or OU is set, matching the stack's strategy.
type RolloutEntry struct {
	Account  string         `yaml:"account"`
	OU       string         `yaml:"ou"`
	Regions  []string       `yaml:"regions"`
	Override map[string]any `yaml:"override"`
}

// OperationPreferences tunes how CloudFormation fans an operation out.
// Tolerance and concurrency accept an integer count or an "N%" string.
type OperationPreferences struct {
	FailureTolerance      any      `yaml:"failure_tolerance"`
	MaxConcurrent         any      `yaml:"max_concurrent"`
	RegionOrder           []string `yaml:"region_order"`
	RegionConcurrencyType string   `yaml:"region_concurrency_type"`
}

// AutoDeploy controls SERVICE_MANAGED automatic deployment to new accounts.
type AutoDeploy struct {
	Enable          bool `yaml:"enable"`
	RetainOnRemoval bool `yaml:"retain_on_removal"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	for i := range m.Stacks {
		if err := m.Stacks[i].validate(); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (s *Stack) validate() error {
	if s.Name == "" {
		return fmt.Errorf("every stack needs a name")
	}
	switch s.RolloutStrategy {
	case "", "accounts", "organization":
	default:
		return fmt.Errorf("rollout_strategy for [%s] must be \"accounts\" or \"organization\", not [%s]", s.Name, s.RolloutStrategy)
	}
	switch s.CallAs {
	case "", "self", "delegated_admin":
	default:
		return fmt.Errorf("call_as for [%s] must be \"self\" or \"delegated_admin\", not [%s]", s.Name, s.CallAs)
	}
	if (s.AdminRoleARN == "") != (s.ExecRoleName == "") {
		return fmt.Errorf("stack [%s]: either specify both admin_role_arn and exec_role_name or none of them", s.Name)
	}
	for _, entry := range s.Rollout {
		if s.Strategy() == rollout.StrategyOrganization {
			if entry.OU == "" {
				return fmt.Errorf("stack [%s]: organization rollout entries need an ou", s.Name)
			}
		} else if entry.Account == "" {
			return fmt.Errorf("stack [%s]: accounts rollout entries need an account", s.Name)
		}
	}
	if s.Preferences != nil {
		if _, err := s.Preferences.SDK(s.Name); err != nil {
			return err
		}
	}
	return nil
}

// Strategy returns the stack's rollout strategy, defaulting to accounts.
func (s *Stack) Strategy() rollout.Strategy {
	if s.RolloutStrategy == "organization" {
		return rollout.StrategyOrganization
	}
	return rollout.StrategyAccounts
}

// HasRollout reports whether the stack declares any rollout state.
func (s *Stack) HasRollout() bool {
	return len(s.Rollout) > 0
}

// DesiredEntries expands the stack's rollout declaration into rollout
// entries. Entries without regions fall back to defaultRegion; an entry left
// with no deployable regions at all is a configuration error.
func (s *Stack) DesiredEntries(defaultRegion string) ([]rollout.Entry, error) {
	var entries []rollout.Entry
	for _, item := range s.Rollout {
		target := item.Account
		if s.Strategy() == rollout.StrategyOrganization {
			target = item.OU
		}
		regions := item.Regions
		if len(regions) == 0 && defaultRegion != "" {
			regions = []string{defaultRegion}
		}
		if len(regions) == 0 {
			return nil, fmt.Errorf("stack [%s]: target %s has no deployable regions", s.Name, target)
		}
		entries = append(entries, rollout.Entry{
			Target:   target,
			Regions:  rollout.NewRegionSet(regions...),
			Override: FormatOverride(item.Override),
		})
	}
	return entries, nil
}

// FormatParameters renders the stack set's default parameters, dropping nil
// values and stringifying the rest. Keys come out sorted.
func (s *Stack) FormatParameters() []rollout.Parameter {
	return formatPairs(s.Parameters)
}

// FormatOverride renders an override mapping the same way parameters are
// rendered: nils dropped, lists comma-joined, everything else stringified.
func FormatOverride(values map[string]any) rollout.Override {
	return rollout.Override(formatPairs(values))
}

func formatPairs(values map[string]any) []rollout.Parameter {
	keys := make([]string, 0, len(values))
	for k, v := range values {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]rollout.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, rollout.Parameter{Key: k, Value: formatValue(values[k])})
	}
	return out
}

func formatValue(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []any:
		parts := make([]string, len(typed))
		for i, item := range typed {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, ",")
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// SDK converts the preferences into the API shape. stack names the owning
// stack in errors.
func (p *OperationPreferences) SDK(stack string) (*cfntypes.StackSetOperationPreferences, error) {
	prefs := &cfntypes.StackSetOperationPreferences{}
	if p.FailureTolerance != nil {
		count, pct, err := countOrPercent(p.FailureTolerance)
		if err != nil {
			return nil, fmt.Errorf("failure_tolerance in operation_preferences must either be integer or have a percent sign on stack %s", stack)
		}
		prefs.FailureToleranceCount = count
		prefs.FailureTolerancePercentage = pct
	}
	if p.MaxConcurrent != nil {
		count, pct, err := countOrPercent(p.MaxConcurrent)
		if err != nil {
			return nil, fmt.Errorf("max_concurrent in operation_preferences must either be integer or have a percent sign on stack %s", stack)
		}
		prefs.MaxConcurrentCount = count
		prefs.MaxConcurrentPercentage = pct
	}
	if len(p.RegionOrder) > 0 {
		prefs.RegionOrder = append([]string(nil), p.RegionOrder...)
	}
	switch p.RegionConcurrencyType {
	case "":
	case "PARALLEL":
		prefs.RegionConcurrencyType = cfntypes.RegionConcurrencyTypeParallel
	case "SEQUENTIAL":
		prefs.RegionConcurrencyType = cfntypes.RegionConcurrencyTypeSequential
	default:
		return nil, fmt.Errorf("region_concurrency_type in operation_preferences must be either PARALLEL or SEQUENTIAL on stack %s", stack)
	}
	return prefs, nil
}

// countOrPercent splits a tolerance/concurrency value into the count or
// percentage API field it belongs to.
func countOrPercent(v any) (count *int32, percent *int32, err error) {
	switch typed := v.(type) {
	case int:
		return aws.Int32(int32(typed)), nil, nil
	case string:
		if !strings.HasSuffix(typed, "%") {
			return nil, nil, fmt.Errorf("missing percent sign")
		}
		n, perr := strconv.Atoi(strings.TrimSuffix(typed, "%"))
		if perr != nil {
			return nil, nil, fmt.Errorf("bad percentage %q", typed)
		}
		return nil, aws.Int32(int32(n)), nil
	default:
		return nil, nil, fmt.Errorf("unsupported type %T", v)
	}
}
