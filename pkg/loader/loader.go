// Package loader turns raw .sql model files into validated model
// definitions. Each file carries a YAML header in its leading block comment;
// the body is a single SELECT. The loader builds a name registry, resolves
// {{ ref('...') }} macros to canonical table names, derives referenced
// tables and output columns from the parsed body, and stamps the content
// hash that snapshots and plans are keyed by.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/sqlparser"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// File is one model source file. Path is repo-relative and only used in
// error messages and provenance fields.
type File struct {
	Path    string
	Content string
}

// Result is a fully resolved model set plus the registry that resolved it.
type Result struct {
	Models   []*types.ModelDefinition
	Registry *Registry
}

// header is the YAML front-matter carried in the leading comment block.
type header struct {
	Name            string                 `yaml:"name"`
	Kind            string                 `yaml:"kind"`
	Materialization string                 `yaml:"materialization"`
	Dialect         string                 `yaml:"dialect"`
	TimeColumn      string                 `yaml:"time_column"`
	UniqueKey       []string               `yaml:"unique_key"`
	Cluster         string                 `yaml:"cluster"`
	Tags            []string               `yaml:"tags"`
	DependsOn       []string               `yaml:"depends_on"`
	Contracts       []types.ColumnContract `yaml:"contracts"`
	Tests           []types.ModelTest      `yaml:"tests"`
}

var modelNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*\.[a-z_][a-z0-9_]*$`)

// Load parses, registers, and resolves a model set. Files are processed in
// path order so errors and output are deterministic. revision is recorded
// on every definition; defaultDialect applies when a header omits dialect.
func Load(files []File, revision string, defaultDialect types.Dialect) (*Result, error) {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	models := make([]*types.ModelDefinition, 0, len(sorted))
	for _, f := range sorted {
		def, err := parseFile(f, defaultDialect)
		if err != nil {
			return nil, err
		}
		def.Revision = revision
		models = append(models, def)
	}

	reg, err := NewRegistry(models)
	if err != nil {
		return nil, err
	}

	for _, def := range models {
		if err := resolve(def, reg); err != nil {
			return nil, err
		}
	}

	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	loaderLog := log.WithComponent("loader")
	loaderLog.Debug().
		Int("count", len(models)).
		Str("revision", revision).
		Msg("models loaded")
	return &Result{Models: models, Registry: reg}, nil
}

// LoadDir loads every .sql file under root. Local mode only; served mode
// reads files through the git collaborator instead.
func LoadDir(root, revision string, defaultDialect types.Dialect) (*Result, error) {
	var files []File
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".sql") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		files = append(files, File{Path: rel, Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err, "reading model directory %s", root)
	}
	return Load(files, revision, defaultDialect)
}

// parseFile splits header from body and validates the declared metadata.
// The body is not parsed here; refs must be resolved first.
func parseFile(f File, defaultDialect types.Dialect) (*types.ModelDefinition, error) {
	rawHeader, body, err := splitHeader(f.Content)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err, "model file %s", f.Path)
	}

	var h header
	if err := yaml.Unmarshal([]byte(rawHeader), &h); err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err, "model header in %s", f.Path)
	}

	name := strings.ToLower(strings.TrimSpace(h.Name))
	if name == "" {
		return nil, errdefs.Validationf("model file %s: header field name is required", f.Path)
	}
	if !modelNameRe.MatchString(name) {
		return nil, errdefs.Validationf("model file %s: name %q must be schema-qualified (schema.model)", f.Path, h.Name)
	}

	kind, err := parseKind(h.Kind)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err, "model %s", name)
	}
	mat, err := parseMaterialization(h.Materialization)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err, "model %s", name)
	}
	dialect, err := parseDialect(h.Dialect, defaultDialect)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err, "model %s", name)
	}

	if kind == types.KindIncrementalByTimeRange && h.TimeColumn == "" {
		return nil, errdefs.Validationf("model %s: kind %s requires time_column", name, kind)
	}
	if kind == types.KindMergeByKey && len(h.UniqueKey) == 0 {
		return nil, errdefs.Validationf("model %s: kind %s requires unique_key", name, kind)
	}

	var cluster types.ClusterSize
	switch h.Cluster {
	case "":
		cluster = types.ClusterSmall
	case string(types.ClusterSmall), string(types.ClusterMedium), string(types.ClusterLarge):
		cluster = types.ClusterSize(h.Cluster)
	default:
		return nil, errdefs.Validationf("model %s: unknown cluster size %q", name, h.Cluster)
	}

	dot := strings.IndexByte(name, '.')
	return &types.ModelDefinition{
		Name:            name,
		Schema:          name[:dot],
		ShortName:       name[dot+1:],
		Kind:            kind,
		Materialization: mat,
		Dialect:         dialect,
		RawSQL:          body,
		TimeColumn:      h.TimeColumn,
		UniqueKey:       h.UniqueKey,
		ClusterSize:     cluster,
		Tags:            h.Tags,
		DependsOn:       normalizeNames(h.DependsOn),
		Contracts:       h.Contracts,
		Tests:           h.Tests,
		Path:            f.Path,
	}, nil
}

// resolve substitutes refs, parses the clean body, and fills the derived
// fields: references, output columns, and the content hash.
func resolve(def *types.ModelDefinition, reg *Registry) error {
	clean, err := SubstituteRefs(def.RawSQL, def.Name, reg)
	if err != nil {
		return err
	}
	def.CleanSQL = strings.TrimSpace(clean)

	refs, err := sqlparser.ReferencedTables(def.CleanSQL, def.Dialect)
	if err != nil {
		return errdefs.Wrap(errdefs.KindParse, err, "model %s", def.Name)
	}
	def.References = refs

	cols, err := sqlparser.OutputColumns(def.CleanSQL, def.Dialect)
	if err != nil {
		return errdefs.Wrap(errdefs.KindParse, err, "model %s", def.Name)
	}
	def.Columns = cols

	hash, err := sqlparser.Hash(def.CleanSQL, def.Dialect, sqlparser.NormalizeV1, nil, hashMetadata(def))
	if err != nil {
		return errdefs.Wrap(errdefs.KindParse, err, "model %s", def.Name)
	}
	def.ContentHash = hash
	return nil
}

// hashMetadata selects the header fields that change rebuild semantics.
// Tags, contracts, and cluster sizing deliberately stay out: they steer
// planning and cost, not what the produced table contains.
func hashMetadata(def *types.ModelDefinition) map[string]string {
	md := map[string]string{
		"kind":            string(def.Kind),
		"materialization": string(def.Materialization),
	}
	if def.TimeColumn != "" {
		md["time_column"] = def.TimeColumn
	}
	if len(def.UniqueKey) > 0 {
		md["unique_key"] = strings.Join(def.UniqueKey, ",")
	}
	return md
}

// splitHeader returns the YAML inside the leading block comment and the SQL
// after it.
func splitHeader(src string) (string, string, error) {
	trimmed := strings.TrimLeft(src, " \t\r\n")
	if !strings.HasPrefix(trimmed, "/*") {
		return "", "", fmt.Errorf("missing model header: file must begin with a /* ... */ block")
	}
	end := strings.Index(trimmed, "*/")
	if end < 0 {
		return "", "", fmt.Errorf("unterminated model header comment")
	}
	return trimmed[2:end], trimmed[end+2:], nil
}

func parseKind(s string) (types.ModelKind, error) {
	switch types.ModelKind(strings.ToUpper(s)) {
	case "":
		return types.KindFullRefresh, nil
	case types.KindFullRefresh:
		return types.KindFullRefresh, nil
	case types.KindIncrementalByTimeRange:
		return types.KindIncrementalByTimeRange, nil
	case types.KindAppendOnly:
		return types.KindAppendOnly, nil
	case types.KindMergeByKey:
		return types.KindMergeByKey, nil
	default:
		return "", fmt.Errorf("unknown model kind %q", s)
	}
}

func parseMaterialization(s string) (types.Materialization, error) {
	switch types.Materialization(strings.ToLower(s)) {
	case "":
		return types.MaterializationTable, nil
	case types.MaterializationTable:
		return types.MaterializationTable, nil
	case types.MaterializationView:
		return types.MaterializationView, nil
	default:
		return "", fmt.Errorf("unknown materialization %q", s)
	}
}

func parseDialect(s string, def types.Dialect) (types.Dialect, error) {
	switch types.Dialect(strings.ToLower(s)) {
	case "":
		return def, nil
	case types.DialectDatabricks:
		return types.DialectDatabricks, nil
	case types.DialectRedshift:
		return types.DialectRedshift, nil
	default:
		return "", fmt.Errorf("unknown dialect %q", s)
	}
}

func normalizeNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ToLower(strings.TrimSpace(n))
	}
	return out
}

// BuildSnapshot freezes a loaded model set into the planner's input form.
func BuildSnapshot(revision string, models []*types.ModelDefinition) types.Snapshot {
	snap := types.Snapshot{Revision: revision, Models: make(map[string]string, len(models))}
	for _, m := range models {
		snap.Models[m.Name] = m.ContentHash
	}
	return snap
}
