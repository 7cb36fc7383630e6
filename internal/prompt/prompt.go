// Package prompt builds the instruction text sent to the inference provider.
package prompt

import "strings"

// QualityPrefix is prepended to every preset template.
const QualityPrefix = "professional commercial photography, high-end editorial, shot on 35mm lens, f/1.8, incredibly detailed, realistic skin textures, natural lighting, sharp focus, 8k resolution, cinematic composition"

// DefaultNegativePrompt is used when a preset carries none.
const DefaultNegativePrompt = "deformed, blurry, low quality"

const separator = ", "

// Compose joins the quality prefix, the preset template and the trimmed custom
// fragment (when non-blank). It is pure: equal inputs give equal output.
func Compose(template, custom string) string {
	parts := []string{QualityPrefix, template}
	if c := strings.TrimSpace(custom); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, separator)
}

func NegativeOrDefault(negative string) string {
	if strings.TrimSpace(negative) == "" {
		return DefaultNegativePrompt
	}
	return negative
}
