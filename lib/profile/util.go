package profile

import (
	"github.com/nuts-foundation/ehrbridge/lib/resource"
)

// Replace sets meta.profile of the resource to exactly the given profile, keeping other meta elements.
// It modifies the given resource.
func Replace(r resource.Resource, profileURL string) {
	meta, ok := resource.Map(r, "meta")
	if !ok {
		meta = map[string]any{}
	}
	meta["profile"] = []any{profileURL}
	r["meta"] = meta
}

// Of returns the profiles declared in meta.profile.
func Of(r resource.Resource) []string {
	meta, ok := resource.Map(r, "meta")
	if !ok {
		return nil
	}
	items, _ := resource.Slice(meta, "profile")
	var result []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}
