package prompt

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tone is the voice an article is written in.
type Tone struct {
	Name  string   `yaml:"name"`
	Voice string   `yaml:"voice"`
	Rules []string `yaml:"rules,omitempty"`
}

// Tones maps lower-cased tone keys to profiles.
type Tones struct {
	Default  string          `yaml:"default"`
	Profiles map[string]Tone `yaml:"profiles"`
}

// DefaultTones returns the built-in profile set.
func DefaultTones() *Tones {
	return &Tones{
		Default: "oracle",
		Profiles: map[string]Tone{
			"oracle": {
				Name: "oracle",
				Voice: "Witty, authoritative and deeply patriotic. Sarcastic only toward corruption " +
					"or bureaucratic inefficiency. The reader is the boss.",
				Rules: []string{"Use plain local English; resonant particles are allowed."},
			},
			"explainer": {
				Name:  "explainer",
				Voice: "Patient, clear and practical. Assume no legal background.",
				Rules: []string{"Define every legal term the first time it appears."},
			},
		},
	}
}

// LoadTones reads tone profiles from a YAML file with a top-level "tones" key.
func LoadTones(path string) (*Tones, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prompt: read tones %s", path)
	}
	return ParseTones(data)
}

// ParseTones decodes tone profiles. Keys are matched case-insensitively.
func ParseTones(data []byte) (*Tones, error) {
	var wrapper struct {
		Tones Tones `yaml:"tones"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "prompt: parse tones")
	}

	t := &wrapper.Tones
	normalized := make(map[string]Tone, len(t.Profiles))
	for key, tone := range t.Profiles {
		key = normalizeKey(key)
		if key == "" {
			return nil, eris.New("prompt: tone profile with empty name")
		}
		if tone.Name == "" {
			tone.Name = key
		}
		normalized[key] = tone
	}
	t.Profiles = normalized
	t.Default = normalizeKey(t.Default)
	if t.Default != "" {
		if _, ok := t.Profiles[t.Default]; !ok {
			return nil, eris.Errorf("prompt: default tone %q is not defined", t.Default)
		}
	}
	return t, nil
}

// Resolve returns the profile for name. An unknown name is used verbatim as
// the voice; an empty name falls back to the default profile.
func (t *Tones) Resolve(name string) Tone {
	key := normalizeKey(name)
	if t != nil {
		if key == "" {
			key = t.Default
		}
		if tone, ok := t.Profiles[key]; ok {
			return tone
		}
	}
	name = strings.TrimSpace(name)
	return Tone{Name: name, Voice: name}
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
