package manifest

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ParsePalette reads palette colors from either a GIMP .gpl palette or a
// plain hex list (one color per line, commas allowed). Colors come back
// normalized to lowercase #rrggbb with duplicates removed, first
// occurrence wins.
func ParsePalette(data []byte) ([]string, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")

	if isGimpPalette(lines) {
		return parseGimpPalette(lines)
	}
	return parseHexList(lines)
}

// LoadPaletteFile reads and parses a palette file from disk.
func LoadPaletteFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read palette %s: %w", path, err)
	}
	colors, err := ParsePalette(data)
	if err != nil {
		return nil, fmt.Errorf("parse palette %s: %w", path, err)
	}
	return colors, nil
}

func isGimpPalette(lines []string) bool {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		return strings.EqualFold(trimmed, "GIMP Palette")
	}
	return false
}

func parseGimpPalette(lines []string) ([]string, error) {
	var colors []string
	seen := make(map[string]bool)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.EqualFold(trimmed, "GIMP Palette") ||
			strings.HasPrefix(trimmed, "Name:") ||
			strings.HasPrefix(trimmed, "Columns:") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 3 {
			return nil, fmt.Errorf("palette line %d: expected R G B values, got %q", i+1, trimmed)
		}
		rgb := make([]int, 3)
		for j := 0; j < 3; j++ {
			v, err := strconv.Atoi(fields[j])
			if err != nil || v < 0 || v > 255 {
				return nil, fmt.Errorf("palette line %d: invalid channel value %q", i+1, fields[j])
			}
			rgb[j] = v
		}
		hex := fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2])
		if !seen[hex] {
			seen[hex] = true
			colors = append(colors, hex)
		}
	}
	if len(colors) == 0 {
		return nil, fmt.Errorf("palette contains no colors")
	}
	return colors, nil
}

func parseHexList(lines []string) ([]string, error) {
	var colors []string
	seen := make(map[string]bool)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, ";") {
			continue
		}
		for _, token := range strings.Split(trimmed, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			hex, err := normalizeHexColor(token)
			if err != nil {
				return nil, fmt.Errorf("palette line %d: %w", i+1, err)
			}
			if !seen[hex] {
				seen[hex] = true
				colors = append(colors, hex)
			}
		}
	}
	if len(colors) == 0 {
		return nil, fmt.Errorf("palette contains no colors")
	}
	return colors, nil
}

func normalizeHexColor(token string) (string, error) {
	s := strings.TrimPrefix(token, "#")
	if len(s) != 6 {
		return "", fmt.Errorf("invalid color %q: expected #rrggbb", token)
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return "", fmt.Errorf("invalid color %q: expected #rrggbb", token)
		}
	}
	return "#" + strings.ToLower(s), nil
}
