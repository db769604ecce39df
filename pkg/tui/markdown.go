package tui

import (
	"github.com/ormasoftchile/recipe/pkg/preview"
)

// markdownCache keeps the rendered prose of each step so that spinner ticks
// do not re-run glamour.
type markdownCache struct {
	width int
	steps map[int]string
}

// render returns the styled prose of step, rendering it at most once per
// terminal width.
func (c *markdownCache) render(step int, md string, width int) string {
	if c.steps == nil || c.width != width {
		c.steps = make(map[int]string)
		c.width = width
	}
	if out, ok := c.steps[step]; ok {
		return out
	}
	out := preview.Render(md, width)
	c.steps[step] = out
	return out
}
