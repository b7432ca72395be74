package loader

import (
	"github.com/gapminder/ddf-server/internal/schema"
)

// conceptGroup bundles the single concepts resource with any per-language
// translations of it.
type conceptGroup struct {
	base         *resource
	translations map[string]resource
}

// tableGroup bundles one entity domain's or one datapoint key tuple's
// base-language resource(s) with any per-language translations.
type tableGroup struct {
	key          []string
	entitySets   []string // entities only, deduplicated
	base         []resource
	translations map[string][]resource
}

// groupResources partitions discovered resources into the concepts group,
// one group per entity domain, and one group per datapoint key tuple.
func groupResources(resources []resource) (conceptGroup, map[string]*tableGroup, map[string]*tableGroup) {
	concepts := conceptGroup{translations: map[string]resource{}}
	entities := map[string]*tableGroup{}
	datapoints := map[string]*tableGroup{}

	for _, r := range resources {
		switch r.kind {
		case kindConcepts:
			if r.language == "" {
				rc := r
				concepts.base = &rc
			} else {
				concepts.translations[r.language] = r
			}
		case kindEntities:
			k := schema.KeyString(r.key)
			grp, ok := entities[k]
			if !ok {
				grp = &tableGroup{key: r.key, translations: map[string][]resource{}}
				entities[k] = grp
			}
			if r.entitySet != "" && !contains(grp.entitySets, r.entitySet) {
				grp.entitySets = append(grp.entitySets, r.entitySet)
			}
			if r.language == "" {
				grp.base = append(grp.base, r)
			} else {
				grp.translations[r.language] = append(grp.translations[r.language], r)
			}
		case kindDatapoints:
			k := schema.KeyString(r.key)
			grp, ok := datapoints[k]
			if !ok {
				grp = &tableGroup{key: r.key, translations: map[string][]resource{}}
				datapoints[k] = grp
			}
			if r.language == "" {
				grp.base = append(grp.base, r)
			} else {
				grp.translations[r.language] = append(grp.translations[r.language], r)
			}
		}
	}
	return concepts, entities, datapoints
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
