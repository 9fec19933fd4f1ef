package stackset

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"go.uber.org/zap"

	"github.com/example/stackseed/internal/rollout"
)

// BodyChecksum returns the checksum used to compare template bodies against
// the template store's recorded checksum.
func BodyChecksum(body string) string {
	sum := sha1.Sum([]byte(body))
	return hex.EncodeToString(sum[:])
}

// needsUpdate decides whether the stack set itself has to be re-submitted:
// parameters, template body, or tags changed. An unchanged stack set skips
// the update call entirely.
func (c *Controller) needsUpdate(existing *cfntypes.StackSet) bool {
	parametersChanged := !parametersEqual(existing.Parameters, c.parameters)
	c.log.Info("compared stack set parameters",
		zap.String("stackset", c.name), zap.Bool("changing", parametersChanged))

	templateChanged := c.template.Checksum == "" ||
		BodyChecksum(aws.ToString(existing.TemplateBody)) != c.template.Checksum
	c.log.Info("compared stack set template",
		zap.String("stackset", c.name), zap.Bool("changing", templateChanged))

	tagsChanged := !tagsEqual(existing.Tags, c.tags)
	c.log.Info("compared stack set tags",
		zap.String("stackset", c.name), zap.Bool("changing", tagsChanged))

	return parametersChanged || templateChanged || tagsChanged
}

func parametersEqual(current []cfntypes.Parameter, want []rollout.Parameter) bool {
	if len(current) != len(want) {
		return false
	}
	a := make(rollout.Override, 0, len(current))
	for _, p := range current {
		a = append(a, rollout.Parameter{Key: aws.ToString(p.ParameterKey), Value: aws.ToString(p.ParameterValue)})
	}
	return a.Equal(rollout.Override(want))
}

func tagsEqual(current, want []cfntypes.Tag) bool {
	if len(current) != len(want) {
		return false
	}
	asMap := func(tags []cfntypes.Tag) map[string]string {
		m := make(map[string]string, len(tags))
		for _, t := range tags {
			m[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
		return m
	}
	a, b := asMap(current), asMap(want)
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// formatTags validates and renders the stack set tags, sorted by key.
// CloudFormation caps tag keys at 127 characters and values at 255.
func formatTags(stackSet string, tags map[string]string) ([]cfntypes.Tag, error) {
	keys := make([]string, 0, len(tags))
	for k, v := range tags {
		if len(k) > 127 {
			return nil, fmt.Errorf("stack set %s: tag key %q cannot be more than 127 characters long", stackSet, k)
		}
		if len(v) > 255 {
			return nil, fmt.Errorf("stack set %s: tag value for %q cannot be more than 255 characters long", stackSet, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]cfntypes.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, cfntypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out, nil
}
