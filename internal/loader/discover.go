package loader

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// resourceKind classifies one discovered CSV file by the DDF naming
// convention: ddf--concepts.csv, ddf--entities--<domain>[--<set>].csv,
// ddf--datapoints--<indicator...>--by--<key1>--<key2>...csv.
type resourceKind int

const (
	kindConcepts resourceKind = iota
	kindEntities
	kindDatapoints
)

// resource is one CSV file contributing to a schema table, optionally under
// a lang/<id>/ translation directory.
type resource struct {
	kind      resourceKind
	path      string
	domain    string   // entities only
	entitySet string   // entities only; "" when the file covers the whole domain
	key       []string // entities: [domain]; datapoints: the --by-- key tuple
	language  string   // "" for the base-language resource
}

var (
	entitiesRe   = regexp.MustCompile(`^ddf--entities--([a-z0-9_]+)(?:--([a-z0-9_]+))?$`)
	datapointsRe = regexp.MustCompile(`^ddf--datapoints--.+--by--(.+)$`)
)

// discoverResources walks dir's top level for base-language resources and
// dir/lang/<id>/ for translations of the same filenames.
func discoverResources(dir string) ([]resource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []resource
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		r, ok := parseResourceName(e.Name())
		if !ok {
			continue
		}
		r.path = filepath.Join(dir, e.Name())
		out = append(out, r)
	}

	langDir := filepath.Join(dir, "lang")
	langEntries, err := os.ReadDir(langDir)
	if err == nil {
		for _, langEntry := range langEntries {
			if !langEntry.IsDir() {
				continue
			}
			lang := langEntry.Name()
			sub := filepath.Join(langDir, lang)
			files, err := os.ReadDir(sub)
			if err != nil {
				continue
			}
			for _, f := range files {
				if f.IsDir() || !strings.HasSuffix(f.Name(), ".csv") {
					continue
				}
				r, ok := parseResourceName(f.Name())
				if !ok {
					continue
				}
				r.language = lang
				r.path = filepath.Join(sub, f.Name())
				out = append(out, r)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

// parseResourceName classifies a bare filename (no directory) against the
// DDF CSV naming convention.
func parseResourceName(name string) (resource, bool) {
	base := strings.TrimSuffix(name, ".csv")

	if base == "ddf--concepts" {
		return resource{kind: kindConcepts}, true
	}
	if m := entitiesRe.FindStringSubmatch(base); m != nil {
		return resource{kind: kindEntities, domain: m[1], entitySet: m[2], key: []string{m[1]}}, true
	}
	if m := datapointsRe.FindStringSubmatch(base); m != nil {
		key := strings.Split(m[1], "--")
		return resource{kind: kindDatapoints, key: key}, true
	}
	return resource{}, false
}
