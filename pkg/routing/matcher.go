package routing

import (
	"fmt"
	"strings"
)

// OriginalTopic is the reserved capture name bound to the full concrete topic
// of the matched message. It is always present in a successful match and may
// be referenced from templates like any declared capture.
const OriginalTopic = "original_topic"

// Captures maps capture names to the topic segments that matched a wildcard
// position in a pattern.
type Captures map[string]string

// Pattern is a compiled topic filter. Filters are '/'-delimited; a segment
// consisting of '+' matches exactly one arbitrary segment, and a trailing '#'
// matches zero or more remaining segments. All other segments match literally
// and case-sensitively.
type Pattern struct {
	raw       string
	segments  []string
	multiTail bool // trailing '#'
}

// CompilePattern validates and compiles a topic filter. An empty filter, or a
// '#' anywhere but the final segment, is rejected so that malformed filters
// surface at load time rather than per message.
func CompilePattern(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty topic pattern")
	}
	segments := strings.Split(raw, "/")
	multiTail := false
	for i, seg := range segments {
		if seg == "#" {
			if i != len(segments)-1 {
				return nil, fmt.Errorf("pattern %q: '#' is only valid as the final segment", raw)
			}
			multiTail = true
		}
	}
	if multiTail {
		segments = segments[:len(segments)-1]
	}
	return &Pattern{raw: raw, segments: segments, multiTail: multiTail}, nil
}

// String returns the original filter text, suitable for use as a broker
// subscription filter.
func (p *Pattern) String() string {
	return p.raw
}

// Wildcards reports the number of single-segment '+' wildcards in the pattern.
func (p *Pattern) Wildcards() int {
	n := 0
	for _, seg := range p.segments {
		if seg == "+" {
			n++
		}
	}
	return n
}

// Match tests a concrete topic against the pattern. On success it returns the
// segments bound to each '+' wildcard, in pattern order, and true. A topic
// that does not satisfy the pattern returns (nil, false); this is a normal
// skip, never an error.
func (p *Pattern) Match(topic string) ([]string, bool) {
	if topic == "" {
		return nil, false
	}
	parts := strings.Split(topic, "/")
	if p.multiTail {
		if len(parts) < len(p.segments) {
			return nil, false
		}
	} else if len(parts) != len(p.segments) {
		return nil, false
	}

	var wildcards []string
	for i, seg := range p.segments {
		if seg == "+" {
			wildcards = append(wildcards, parts[i])
			continue
		}
		if seg != parts[i] {
			return nil, false
		}
	}
	return wildcards, true
}
