package loader

import "testing"

func TestGroupResources_ConceptsBaseAndTranslation(t *testing.T) {
	resources := []resource{
		{kind: kindConcepts, path: "ddf--concepts.csv"},
		{kind: kindConcepts, path: "lang/sv/ddf--concepts.csv", language: "sv"},
	}
	concepts, _, _ := groupResources(resources)
	if concepts.base == nil {
		t.Fatal("expected base concepts resource")
	}
	if _, ok := concepts.translations["sv"]; !ok {
		t.Error("expected sv translation recorded")
	}
}

func TestGroupResources_EntitiesGroupedByDomainWithSets(t *testing.T) {
	resources := []resource{
		{kind: kindEntities, domain: "geo", entitySet: "country", key: []string{"geo"}},
		{kind: kindEntities, domain: "geo", entitySet: "region", key: []string{"geo"}},
		{kind: kindEntities, domain: "geo", entitySet: "country", key: []string{"geo"}, language: "sv"},
	}
	_, entities, _ := groupResources(resources)
	if len(entities) != 1 {
		t.Fatalf("expected one entity group for domain geo, got %d", len(entities))
	}
	for _, grp := range entities {
		if len(grp.entitySets) != 2 {
			t.Errorf("expected 2 distinct entity sets, got %v", grp.entitySets)
		}
		if len(grp.base) != 2 {
			t.Errorf("expected 2 base-language resources, got %d", len(grp.base))
		}
		if len(grp.translations["sv"]) != 1 {
			t.Errorf("expected 1 sv translation resource, got %d", len(grp.translations["sv"]))
		}
	}
}

func TestGroupResources_DatapointsGroupedByKey(t *testing.T) {
	resources := []resource{
		{kind: kindDatapoints, key: []string{"geo", "time"}},
		{kind: kindDatapoints, key: []string{"geo", "time"}},
		{kind: kindDatapoints, key: []string{"geo"}},
	}
	_, _, datapoints := groupResources(resources)
	if len(datapoints) != 2 {
		t.Fatalf("expected 2 distinct key groups, got %d", len(datapoints))
	}
}

func TestContains(t *testing.T) {
	list := []string{"a", "b"}
	if !contains(list, "a") {
		t.Error("expected contains to find existing element")
	}
	if contains(list, "c") {
		t.Error("expected contains to reject missing element")
	}
}
