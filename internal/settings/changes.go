package settings

import "github.com/qwenlm/qwen-ext/internal/manifest"

// Changes partitions the difference between two setting declarations.
// Settings are matched on their (envVar, sensitive) pair, so flipping the
// sensitivity of a setting both removes and re-prompts it.
type Changes struct {
	PromptSensitive    []manifest.ExtensionSetting
	RemoveSensitive    []manifest.ExtensionSetting
	PromptNonSensitive []manifest.ExtensionSetting
	RemoveNonSensitive []manifest.ExtensionSetting
}

// Empty reports whether nothing needs prompting or removal.
func (c Changes) Empty() bool {
	return len(c.PromptSensitive) == 0 && len(c.RemoveSensitive) == 0 &&
		len(c.PromptNonSensitive) == 0 && len(c.RemoveNonSensitive) == 0
}

type settingKey struct {
	envVar    string
	sensitive bool
}

func keyOf(s manifest.ExtensionSetting) settingKey {
	return settingKey{envVar: s.EnvVar, sensitive: s.Sensitive}
}

// GetSettingsChanges diffs previous against next.
func GetSettingsChanges(previous, next []manifest.ExtensionSetting) Changes {
	prev := make(map[settingKey]bool, len(previous))
	for _, s := range previous {
		prev[keyOf(s)] = true
	}
	curr := make(map[settingKey]bool, len(next))
	for _, s := range next {
		curr[keyOf(s)] = true
	}

	var c Changes
	for _, s := range next {
		if prev[keyOf(s)] {
			continue
		}
		if s.Sensitive {
			c.PromptSensitive = append(c.PromptSensitive, s)
		} else {
			c.PromptNonSensitive = append(c.PromptNonSensitive, s)
		}
	}
	for _, s := range previous {
		if curr[keyOf(s)] {
			continue
		}
		if s.Sensitive {
			c.RemoveSensitive = append(c.RemoveSensitive, s)
		} else {
			c.RemoveNonSensitive = append(c.RemoveNonSensitive, s)
		}
	}
	return c
}
