package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/example/stackseed/internal/rollout"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stackseed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadValidManifest(t *testing.T) {
	path := writeManifest(t, `
stacks:
  - name: logging
    template_url: https://bucket.s3.amazonaws.com/logging.yaml
    rollout_strategy: accounts
    operation_preferences:
      failure_tolerance: 2
      max_concurrent: "50%"
      region_order: [eu-west-1, us-east-1]
      region_concurrency_type: SEQUENTIAL
    rollout:
      - account: "111111111111"
        regions: [eu-west-1, us-east-1]
        override:
          Env: prod
          AZCount: 3
    tags:
      team: ops
`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m.Stacks) != 1 {
		t.Fatalf("got %d stacks, want 1", len(m.Stacks))
	}
	stack := m.Stacks[0]
	if stack.Strategy() != rollout.StrategyAccounts {
		t.Fatalf("strategy %q", stack.Strategy())
	}
	prefs, err := stack.Preferences.SDK(stack.Name)
	if err != nil {
		t.Fatalf("SDK preferences: %v", err)
	}
	if aws.ToInt32(prefs.FailureToleranceCount) != 2 || prefs.FailureTolerancePercentage != nil {
		t.Fatalf("failure tolerance mapped wrong: %+v", prefs)
	}
	if aws.ToInt32(prefs.MaxConcurrentPercentage) != 50 || prefs.MaxConcurrentCount != nil {
		t.Fatalf("max concurrent mapped wrong: %+v", prefs)
	}
	if prefs.RegionConcurrencyType != cfntypes.RegionConcurrencyTypeSequential {
		t.Fatalf("region concurrency type %q", prefs.RegionConcurrencyType)
	}
	if !reflect.DeepEqual(prefs.RegionOrder, []string{"eu-west-1", "us-east-1"}) {
		t.Fatalf("region order %v", prefs.RegionOrder)
	}
}

func TestLoadRejectsBadStrategyAndCallAs(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			name: "bad strategy",
			manifest: `
stacks:
  - name: logging
    rollout_strategy: region
`,
			wantErr: "rollout_strategy",
		},
		{
			name: "bad call_as",
			manifest: `
stacks:
  - name: logging
    call_as: admin
`,
			wantErr: "call_as",
		},
		{
			name: "half a role pair",
			manifest: `
stacks:
  - name: logging
    admin_role_arn: arn:aws:iam::111111111111:role/admin
`,
			wantErr: "admin_role_arn and exec_role_name",
		},
		{
			name: "org entry without ou",
			manifest: `
stacks:
  - name: scp
    rollout_strategy: organization
    rollout:
      - account: "111111111111"
`,
			wantErr: "need an ou",
		},
		{
			name: "bad tolerance",
			manifest: `
stacks:
  - name: logging
    operation_preferences:
      failure_tolerance: "five"
`,
			wantErr: "failure_tolerance",
		},
		{
			name: "bad region concurrency",
			manifest: `
stacks:
  - name: logging
    operation_preferences:
      region_concurrency_type: BOTH
`,
			wantErr: "region_concurrency_type",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeManifest(t, tc.manifest))
			if err == nil {
				t.Fatalf("Load succeeded, want error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestDesiredEntriesDefaultsAndErrors(t *testing.T) {
	stack := Stack{
		Name: "logging",
		Rollout: []RolloutEntry{
			{Account: "111111111111"},
			{Account: "222222222222", Regions: []string{"us-east-1"}},
		},
	}
	entries, err := stack.DesiredEntries("ap-southeast-2")
	if err != nil {
		t.Fatalf("DesiredEntries: %v", err)
	}
	if !entries[0].Regions.Equal(rollout.NewRegionSet("ap-southeast-2")) {
		t.Fatalf("defaulted regions %v", entries[0].Regions.Sorted())
	}
	if !entries[1].Regions.Equal(rollout.NewRegionSet("us-east-1")) {
		t.Fatalf("explicit regions %v", entries[1].Regions.Sorted())
	}
	if _, err := stack.DesiredEntries(""); err == nil {
		t.Fatalf("expected an error for a target with no deployable regions")
	} else if !strings.Contains(err.Error(), "no deployable regions") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestFormatOverrideStringifiesValues(t *testing.T) {
	got := FormatOverride(map[string]any{
		"Zones":   []any{"a", "b", "c"},
		"Count":   3,
		"Enabled": true,
		"Skipped": nil,
		"Name":    "primary",
	})
	want := rollout.Override{
		{Key: "Count", Value: "3"},
		{Key: "Enabled", Value: "true"},
		{Key: "Name", Value: "primary"},
		{Key: "Zones", Value: "a,b,c"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FormatOverride=%v want %v", got, want)
	}
}

func TestFormatParametersSortedAndNilFree(t *testing.T) {
	stack := Stack{
		Name: "logging",
		Parameters: map[string]any{
			"Retention": 30,
			"Bucket":    "logs",
			"Unset":     nil,
		},
	}
	got := stack.FormatParameters()
	want := []rollout.Parameter{
		{Key: "Bucket", Value: "logs"},
		{Key: "Retention", Value: "30"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FormatParameters=%v want %v", got, want)
	}
}
