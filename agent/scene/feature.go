package scene

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

// Feature is a behavioural flag attached to a scene.
type Feature uint16

const (
	FeatureMemory Feature = 1 << iota
	FeatureEmotion
	FeaturePersonality
	FeatureBrief
	FeatureSocial
	FeatureFormal
	FeatureDetailed
	FeatureCasual
	FeatureEmotional
	FeatureCreative
	FeatureUnderstanding
	FeatureInteractive
)

var featureNames = []struct {
	flag Feature
	name string
}{
	{FeatureMemory, "memory"},
	{FeatureEmotion, "emotion"},
	{FeaturePersonality, "personality"},
	{FeatureBrief, "brief"},
	{FeatureSocial, "social"},
	{FeatureFormal, "formal"},
	{FeatureDetailed, "detailed"},
	{FeatureCasual, "casual"},
	{FeatureEmotional, "emotional"},
	{FeatureCreative, "creative"},
	{FeatureUnderstanding, "understanding"},
	{FeatureInteractive, "interactive"},
}

// Features is a set of Feature flags.
type Features Feature

func (f Features) Has(flag Feature) bool {
	return Feature(f)&flag != 0
}

func (f Features) Names() []string {
	var names []string
	for _, fn := range featureNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Features) String() string {
	return strings.Join(f.Names(), ",")
}

// ParseFeatures rejects names outside the closed feature set.
func ParseFeatures(names []string) (Features, error) {
	var out Feature
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		found := false
		for _, fn := range featureNames {
			if fn.name == name {
				out |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", contractx.ErrUnknownFeature, raw)
		}
	}
	return Features(out), nil
}
