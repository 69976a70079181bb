package safety

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/validation"
)

// maxAutoTags caps the generated tag list.
const maxAutoTags = 20

// platformMarkers maps content markers to platform tags.
var platformMarkers = map[string]string{
	"claude":   "claude-code",
	"kiro":     "kiro",
	"cursor":   "cursor",
	"windsurf": "windsurf",
}

// techMarkers is the fixed, ordered list of technology and dependency names
// recognized in content. Order fixes tag output for identical input.
var techMarkers = []string{
	"typescript", "javascript", "python", "golang", "rust", "java",
	"react", "vue", "svelte", "nextjs", "node",
	"docker", "kubernetes", "terraform",
	"postgres", "mysql", "mongodb", "redis", "sqlite",
	"eslint", "prettier", "vitest", "jest",
}

// componentCategories maps content keys to category tags.
var componentCategories = []string{
	"settings", "keymap", "snippets", "theme", "extensions", "agents",
	"commands", "mcp", "steering", "prompts",
}

// GenerateAutoTags derives descriptive tags from package content: platform
// markers, technology names, component categories, a size bucket, nesting
// depth, and the major version. Deterministic for identical input and capped
// at 20 tags. Tolerates cyclic object graphs.
func (e *Engine) GenerateAutoTags(content any, size int64, version string) []string {
	var tags []string
	add := func(tag string) {
		if tag == "" || len(tags) >= maxAutoTags {
			return
		}
		for _, existing := range tags {
			if existing == tag {
				return
			}
		}
		tags = append(tags, tag)
	}

	keys, text, depth := inspect(content)

	// Platform markers, in fixed order.
	markerNames := make([]string, 0, len(platformMarkers))
	for marker := range platformMarkers {
		markerNames = append(markerNames, marker)
	}
	sort.Strings(markerNames)
	for _, marker := range markerNames {
		if strings.Contains(text, marker) {
			add(platformMarkers[marker])
		}
	}

	for _, tech := range techMarkers {
		if strings.Contains(text, tech) {
			add(tech)
		}
	}

	for _, category := range componentCategories {
		if keys[category] {
			add(category)
		}
	}

	add(sizeBucket(size))

	if depth >= 8 {
		add("deeply-nested")
	}

	if major := validation.MajorVersion(version); major >= 0 {
		add(fmt.Sprintf("v%d", major))
	}

	return tags
}

func sizeBucket(size int64) string {
	switch {
	case size <= 0:
		return ""
	case size < 10<<10:
		return "size-tiny"
	case size < 100<<10:
		return "size-small"
	case size < 1<<20:
		return "size-medium"
	default:
		return "size-large"
	}
}

// inspect walks content once collecting the lowercased key set, a lowercased
// text rendering of scalar values, and the maximum nesting depth. A visited
// set keeps cyclic graphs from recursing forever.
func inspect(content any) (keys map[string]bool, text string, depth int) {
	keys = make(map[string]bool)
	var sb strings.Builder
	maxDepth := 0
	seen := newVisited()

	var walk func(node any, level int)
	walk = func(node any, level int) {
		if level > maxDepth {
			maxDepth = level
		}
		switch v := node.(type) {
		case map[string]any:
			if !seen.enter(v) {
				return
			}
			names := make([]string, 0, len(v))
			for k := range v {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				keys[strings.ToLower(k)] = true
				sb.WriteString(strings.ToLower(k))
				sb.WriteByte(' ')
				walk(v[k], level+1)
			}
		case []any:
			if !seen.enter(v) {
				return
			}
			for _, item := range v {
				walk(item, level+1)
			}
		case string:
			sb.WriteString(strings.ToLower(v))
			sb.WriteByte(' ')
		case json.Number:
			sb.WriteString(v.String())
			sb.WriteByte(' ')
		}
	}
	walk(content, 0)
	return keys, sb.String(), maxDepth
}
