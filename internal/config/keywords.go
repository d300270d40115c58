package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deusflow/herald/internal/news"
)

// Keywords is the topic table in YAML order. Each topic is either a plain
// keyword list or a mapping with an explicit weight:
//
//	keywords:
//	  ai: [llm, "machine learning"]
//	  rust:
//	    weight: 2
//	    keywords: [rust, cargo]
type Keywords news.Topics

type weightedTopic struct {
	Weight   float64  `yaml:"weight"`
	Keywords []string `yaml:"keywords"`
}

// UnmarshalYAML walks the mapping node directly so topic order survives.
func (k *Keywords) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*k = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: keywords must be a mapping of topic to keywords", node.Line)
	}

	topics := make(Keywords, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := strings.TrimSpace(node.Content[i].Value)
		value := node.Content[i+1]
		if name == "" {
			continue
		}

		topic := news.Topic{Name: name, Weight: 1}
		switch value.Kind {
		case yaml.SequenceNode:
			if err := value.Decode(&topic.Keywords); err != nil {
				return fmt.Errorf("topic %q: %w", name, err)
			}
		case yaml.MappingNode:
			var wt weightedTopic
			if err := value.Decode(&wt); err != nil {
				return fmt.Errorf("topic %q: %w", name, err)
			}
			topic.Keywords = wt.Keywords
			if wt.Weight > 0 {
				topic.Weight = wt.Weight
			}
		case yaml.ScalarNode:
			if value.Tag != "!!null" && strings.TrimSpace(value.Value) != "" {
				topic.Keywords = []string{value.Value}
			}
		default:
			return fmt.Errorf("line %d: unsupported value for topic %q", value.Line, name)
		}
		topics = append(topics, topic)
	}

	*k = topics
	return nil
}
