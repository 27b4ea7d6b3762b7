package loader

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// Registry maps model references onto canonical names. Both the short name
// (orders_daily) and the qualified name (analytics.orders_daily) resolve;
// a short name shared by two models is ambiguous and refuses to resolve.
type Registry struct {
	byRef     map[string]string
	ambiguous map[string][]string
	canonical []string
}

// NewRegistry indexes a model set. Duplicate canonical names are a hard
// error; duplicate short names are legal until someone refs them.
func NewRegistry(models []*types.ModelDefinition) (*Registry, error) {
	reg := &Registry{
		byRef:     make(map[string]string, len(models)*2),
		ambiguous: map[string][]string{},
	}
	for _, m := range models {
		if _, dup := reg.byRef[m.Name]; dup {
			return nil, errdefs.Validationf("duplicate model name %s (%s)", m.Name, m.Path)
		}
		reg.byRef[m.Name] = m.Name
		reg.canonical = append(reg.canonical, m.Name)
	}
	for _, m := range models {
		short := m.ShortName
		if prev, ok := reg.byRef[short]; ok && prev != m.Name {
			reg.ambiguous[short] = append(reg.ambiguous[short], prev, m.Name)
			delete(reg.byRef, short)
			continue
		}
		if _, clash := reg.ambiguous[short]; clash {
			reg.ambiguous[short] = append(reg.ambiguous[short], m.Name)
			continue
		}
		reg.byRef[short] = m.Name
	}
	sort.Strings(reg.canonical)
	return reg, nil
}

// Names returns all canonical model names, sorted.
func (r *Registry) Names() []string {
	return r.canonical
}

// Resolve maps one reference to a canonical name.
func (r *Registry) Resolve(ref string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(ref))
	if name, ok := r.byRef[key]; ok {
		return name, nil
	}
	if candidates, ok := r.ambiguous[key]; ok {
		sorted := append([]string(nil), candidates...)
		sort.Strings(sorted)
		return "", errdefs.UnresolvedReff("ref %q is ambiguous between %s", ref, strings.Join(dedupe(sorted), ", "))
	}
	return "", errdefs.UnresolvedReff("ref %q not found; available models: %s", ref, strings.Join(r.canonical, ", "))
}

var refMacroRe = regexp.MustCompile(`\{\{\s*ref\(\s*['"]([^'"]*)['"]\s*\)\s*\}\}`)

// SubstituteRefs replaces every {{ ref('name') }} macro in sql with the
// canonical table name. model names the definition being resolved, for
// error context only.
func SubstituteRefs(sql, model string, reg *Registry) (string, error) {
	var firstErr error
	out := refMacroRe.ReplaceAllStringFunc(sql, func(macro string) string {
		ref := refMacroRe.FindStringSubmatch(macro)[1]
		name, err := reg.Resolve(ref)
		if err != nil {
			if firstErr == nil {
				firstErr = errdefs.Wrap(errdefs.KindUnresolvedRef, err, "model %s", model)
			}
			return macro
		}
		return name
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
