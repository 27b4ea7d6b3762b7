package advisory

import (
	"sort"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// Prompt is one frozen template. Changing a template requires a new
// version; the version rides on every cache key and log record so a bump
// invalidates stale answers.
type Prompt struct {
	ID        string
	Version   string
	MaxTokens int
	Template  string
}

const (
	PromptClassifyChange = "classify_change"
	PromptOptimizeSQL    = "optimize_sql"
)

// promptRegistry is append-only: published versions are never edited.
var promptRegistry = map[string]Prompt{
	PromptClassifyChange: {
		ID:        PromptClassifyChange,
		Version:   "v1",
		MaxTokens: 64,
		Template: `You review SQL model changes in a data pipeline.
Classify the change below as exactly one of:
non_breaking, breaking, metric_semantic, rename_only, partition_shift, cosmetic.

Previous SQL:
{{old_sql}}

New SQL:
{{new_sql}}

Detected structural edits: {{edits}}

Reply with the single category name and nothing else.`,
	},
	PromptOptimizeSQL: {
		ID:        PromptOptimizeSQL,
		Version:   "v1",
		MaxTokens: 512,
		Template: `You tune SQL for a distributed warehouse.
Suggest up to three concrete improvements for the statement below.
Each suggestion must be one line starting with "- ".
Do not rewrite the full statement.

Statement:
{{sql}}

Known table sizes (GB): {{table_sizes}}`,
	},
}

// LookupPrompt returns the frozen prompt for id.
func LookupPrompt(id string) (Prompt, error) {
	p, ok := promptRegistry[id]
	if !ok {
		return Prompt{}, errdefs.NotFoundf("prompt %q is not registered", id)
	}
	return p, nil
}

// Render substitutes {{name}} placeholders. Unknown placeholders are left
// in place so a missing variable is visible in the output rather than
// silently blank.
func (p Prompt) Render(vars map[string]string) string {
	if len(vars) == 0 {
		return p.Template
	}
	pairs := make([]string, 0, 2*len(vars))
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(p.Template)
}
