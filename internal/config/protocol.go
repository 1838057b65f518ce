// Package config loads the study protocol: instruction scenarios, the
// evaluation questionnaire, catalog locations and remote path layout.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/soaringjerry/moderator/internal/catalog"
	"github.com/soaringjerry/moderator/internal/models"
	"github.com/soaringjerry/moderator/internal/remote"
	"github.com/soaringjerry/moderator/internal/services"
)

//go:embed default_protocol.yaml
var defaultProtocol []byte

type Protocol struct {
	InstructionVersions []string            `yaml:"instruction_versions"`
	Instructions        map[string]string   `yaml:"instructions"`
	Questionnaire       QuestionnaireConfig `yaml:"questionnaire"`
	TrustCueProbability float64             `yaml:"trust_cue_probability"`
	DebriefText         string              `yaml:"debrief_text"`
	Catalog             CatalogConfig       `yaml:"catalog"`
	Remote              RemoteConfig        `yaml:"remote"`
}

type QuestionnaireConfig struct {
	Questions     []string     `yaml:"questions"`
	Options       []string     `yaml:"options"`
	Default       string       `yaml:"default"`
	ReverseScored []string     `yaml:"reverse_scored"`
	Sanity        SanityConfig `yaml:"sanity"`
}

type SanityConfig struct {
	Question    string   `yaml:"question"`
	Options     []string `yaml:"options"`
	Default     string   `yaml:"default"`
	Probability float64  `yaml:"probability"`
}

type CatalogConfig struct {
	ProjectRoot string         `yaml:"project_root"`
	Stimuli     string         `yaml:"stimuli"`
	Affect      string         `yaml:"affect"`
	MediaExt    string         `yaml:"media_ext"`
	Subsample   int            `yaml:"subsample"`
	Layout      catalog.Layout `yaml:"layout"`
}

type RemoteConfig struct {
	TrialPrefix     string `yaml:"trial_prefix"`
	AggregatePrefix string `yaml:"aggregate_prefix"`
}

// Default returns the embedded protocol.
func Default() (Protocol, error) {
	var p Protocol
	if err := yaml.Unmarshal(defaultProtocol, &p); err != nil {
		return Protocol{}, fmt.Errorf("parse default protocol: %w", err)
	}
	p.normalize()
	return p, p.validate()
}

// Load reads a protocol file over the embedded defaults. Keys absent from
// the file keep their default values; lists and maps given in the file
// replace the defaults. An empty path returns the defaults.
func Load(path string) (Protocol, error) {
	p, err := Default()
	if err != nil {
		return Protocol{}, err
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return p, nil
	}
	// #nosec G304 -- protocol path is explicit operator input.
	content, err := os.ReadFile(trimmed)
	if err != nil {
		return Protocol{}, fmt.Errorf("read protocol: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return p, nil
	}
	if err := yaml.Unmarshal(content, &p); err != nil {
		return Protocol{}, fmt.Errorf("parse protocol: %w", err)
	}
	p.normalize()
	if err := p.validate(); err != nil {
		return Protocol{}, fmt.Errorf("protocol %s: %w", trimmed, err)
	}
	return p, nil
}

func (p *Protocol) normalize() {
	p.InstructionVersions = trimAll(p.InstructionVersions)
	instructions := make(map[string]string, len(p.Instructions))
	for k, v := range p.Instructions {
		instructions[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	p.Instructions = instructions
	p.DebriefText = strings.TrimSpace(p.DebriefText)

	q := &p.Questionnaire
	q.Questions = trimAll(q.Questions)
	q.Options = trimAll(q.Options)
	q.Default = strings.TrimSpace(q.Default)
	q.ReverseScored = trimAll(q.ReverseScored)
	q.Sanity.Question = strings.TrimSpace(q.Sanity.Question)
	q.Sanity.Options = trimAll(q.Sanity.Options)
	q.Sanity.Default = strings.TrimSpace(q.Sanity.Default)

	p.Catalog.ProjectRoot = strings.TrimSpace(p.Catalog.ProjectRoot)
	p.Catalog.Stimuli = strings.TrimSpace(p.Catalog.Stimuli)
	p.Catalog.Affect = strings.TrimSpace(p.Catalog.Affect)
	p.Catalog.MediaExt = strings.ToLower(strings.TrimSpace(p.Catalog.MediaExt))

	p.Remote.TrialPrefix = strings.Trim(strings.TrimSpace(p.Remote.TrialPrefix), "/")
	p.Remote.AggregatePrefix = strings.Trim(strings.TrimSpace(p.Remote.AggregatePrefix), "/")
}

func (p *Protocol) validate() error {
	for _, v := range p.InstructionVersions {
		if p.Instructions[v] == "" {
			return fmt.Errorf("instruction version %q has no text", v)
		}
	}
	q := p.Questionnaire
	if len(q.Questions) == 0 {
		return fmt.Errorf("questionnaire needs at least one question")
	}
	if !slices.Contains(q.Options, q.Default) {
		return fmt.Errorf("default answer %q is not an option", q.Default)
	}
	if q.Sanity.Question != "" {
		if !slices.Contains(q.Sanity.Options, q.Sanity.Default) {
			return fmt.Errorf("sanity default %q is not a sanity option", q.Sanity.Default)
		}
		if slices.Contains(q.Questions, q.Sanity.Question) {
			return fmt.Errorf("sanity question duplicates a regular question")
		}
	}
	if q.Sanity.Probability < 0 || q.Sanity.Probability > 1 {
		return fmt.Errorf("sanity probability %v outside [0,1]", q.Sanity.Probability)
	}
	if p.TrustCueProbability < 0 || p.TrustCueProbability > 1 {
		return fmt.Errorf("trust cue probability %v outside [0,1]", p.TrustCueProbability)
	}
	l := p.Catalog.Layout
	if min(l.Label, l.SpoofTimes, l.Duration, l.Media, l.AffectPath, l.AffectQuadrant) < 0 {
		return fmt.Errorf("catalog layout columns must be non-negative")
	}
	if p.Catalog.Subsample < 0 {
		return fmt.Errorf("catalog subsample must be non-negative")
	}
	return nil
}

// QuestionnaireModel returns the questionnaire in the form the sequencer uses.
func (p Protocol) QuestionnaireModel() models.Questionnaire {
	q := p.Questionnaire
	reverse := make(map[string]bool, len(q.ReverseScored))
	for _, r := range q.ReverseScored {
		reverse[r] = true
	}
	return models.Questionnaire{
		Questions:         slices.Clone(q.Questions),
		Options:           slices.Clone(q.Options),
		DefaultOption:     q.Default,
		SanityQuestion:    q.Sanity.Question,
		SanityOptions:     slices.Clone(q.Sanity.Options),
		SanityDefault:     q.Sanity.Default,
		SanityProbability: q.Sanity.Probability,
		ReverseScored:     reverse,
	}
}

func (p Protocol) ServiceOptions() services.Options {
	instructions := make(map[string]string, len(p.Instructions))
	for k, v := range p.Instructions {
		instructions[k] = v
	}
	return services.Options{
		Questionnaire:       p.QuestionnaireModel(),
		Instructions:        instructions,
		InstructionVersions: slices.Clone(p.InstructionVersions),
		TrustCueProbability: p.TrustCueProbability,
		DebriefText:         p.DebriefText,
	}
}

// CatalogConfig resolves catalog paths. A non-empty projectRoot overrides
// the protocol's root.
func (p Protocol) CatalogConfig(projectRoot string) catalog.Config {
	root := p.Catalog.ProjectRoot
	if strings.TrimSpace(projectRoot) != "" {
		root = projectRoot
	}
	return catalog.Config{
		ProjectRoot: root,
		StimuliPath: p.Catalog.Stimuli,
		AffectPath:  p.Catalog.Affect,
		Layout:      p.Catalog.Layout,
		MediaExt:    p.Catalog.MediaExt,
		Subsample:   p.Catalog.Subsample,
	}
}

func (p Protocol) RemotePaths() remote.Paths {
	paths := remote.DefaultPaths()
	if p.Remote.TrialPrefix != "" {
		paths.TrialPrefix = p.Remote.TrialPrefix
	}
	if p.Remote.AggregatePrefix != "" {
		paths.AggregatePrefix = p.Remote.AggregatePrefix
	}
	return paths
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
