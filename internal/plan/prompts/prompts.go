// Package prompts embeds the system prompt files.
package prompts

import "embed"

//go:embed *.md
var PromptsFS embed.FS
