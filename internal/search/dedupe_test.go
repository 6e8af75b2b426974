package search

import (
	"reflect"
	"testing"

	"tutormarket/searchservice/internal/domain"
)

func catalogIDs(items []domain.ServiceOffering) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := item.CatalogID
		if key == "" {
			key = item.Name
		}
		if key == "" {
			key = item.ID
		}
		out = append(out, key)
	}
	return out
}

func TestDedupeOfferingsFirstWinsAndBackfills(t *testing.T) {
	items := []domain.ServiceOffering{
		{ID: "1", CatalogID: "piano", Name: "Piano"},
		{ID: "2", CatalogID: "guitar", Name: "Guitar", HourlyRate: 60},
		{ID: "3", CatalogID: " Piano ", Name: "Piano (dup)", Description: "Classical", DurationOptions: []int{45}, Active: domain.BoolPtr(true), HourlyRate: 90},
		{ID: "4", CatalogID: "guitar", HourlyRate: 10, Description: "Rock"},
	}
	got := DedupeOfferings(items, "")

	if want := []string{"piano", "guitar"}; !reflect.DeepEqual(catalogIDs(got), want) {
		t.Fatalf("unexpected order: %v", catalogIDs(got))
	}
	piano := got[0]
	if piano.ID != "1" || piano.Name != "Piano" {
		t.Fatalf("populated fields must not be overwritten: %+v", piano)
	}
	if piano.Description != "Classical" || !reflect.DeepEqual(piano.DurationOptions, []int{45}) || !domain.BoolValue(piano.Active) {
		t.Fatalf("missing fields must be backfilled: %+v", piano)
	}
	if piano.HourlyRate != 90 {
		t.Fatalf("expected backfilled hourly rate, got %v", piano.HourlyRate)
	}
	if got[1].HourlyRate != 60 || got[1].Description != "Rock" {
		t.Fatalf("unexpected guitar merge: %+v", got[1])
	}
}

func TestDedupeOfferingsKeyFallbacks(t *testing.T) {
	items := []domain.ServiceOffering{
		{Name: "Voice"},
		{Name: "VOICE", ID: "v-2"},
		{ID: "only-id"},
		{ID: "ONLY-ID", Description: "second"},
		{},
		{CatalogID: "   ", Name: "  "},
	}
	got := DedupeOfferings(items, "")
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %+v", got)
	}
	if got[0].ID != "v-2" {
		t.Fatalf("expected id backfilled from duplicate name, got %+v", got[0])
	}
	if got[1].Description != "second" {
		t.Fatalf("expected description backfilled by id key, got %+v", got[1])
	}
}

func TestDedupeOfferingsHighlightSplice(t *testing.T) {
	items := []domain.ServiceOffering{
		{CatalogID: "a"},
		{CatalogID: "b"},
		{CatalogID: "c"},
		{CatalogID: "d"},
	}
	got := DedupeOfferings(items, "C")
	if want := []string{"c", "a", "b", "d"}; !reflect.DeepEqual(catalogIDs(got), want) {
		t.Fatalf("unexpected order: %v", catalogIDs(got))
	}

	unchanged := DedupeOfferings(items, "missing")
	if want := []string{"a", "b", "c", "d"}; !reflect.DeepEqual(catalogIDs(unchanged), want) {
		t.Fatalf("unknown highlight must not reorder: %v", catalogIDs(unchanged))
	}
}

func TestDedupeOfferingsIdempotent(t *testing.T) {
	items := []domain.ServiceOffering{
		{ID: "1", CatalogID: "math", Levels: []string{"k12"}},
		{ID: "2", Name: "Chess"},
		{ID: "3", CatalogID: "MATH", AgeGroups: []string{"teens"}, OffersTravel: domain.BoolPtr(false)},
		{ID: "4", CatalogID: "spanish"},
		{ID: "5", Name: "chess", Description: "openings"},
	}
	for _, highlight := range []string{"", "spanish", "math", "chess", "nope"} {
		once := DedupeOfferings(items, highlight)
		twice := DedupeOfferings(once, highlight)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("highlight %q: not idempotent\nonce:  %+v\ntwice: %+v", highlight, once, twice)
		}
		seen := make(map[string]struct{})
		for _, key := range catalogIDs(once) {
			lowered := normalizeKey(newLowerCaser(), key)
			if _, dup := seen[lowered]; dup {
				t.Fatalf("highlight %q: duplicate key %q in output", highlight, key)
			}
			seen[lowered] = struct{}{}
		}
	}
}

func TestDedupeOfferingsDoesNotAliasInput(t *testing.T) {
	items := []domain.ServiceOffering{
		{CatalogID: "a", Levels: []string{"beginner"}},
	}
	got := DedupeOfferings(items, "")
	got[0].Levels[0] = "changed"
	if items[0].Levels[0] != "beginner" {
		t.Fatal("output must not share slices with input")
	}
}

func TestDedupeOfferingsEmpty(t *testing.T) {
	if got := DedupeOfferings(nil, "x"); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}
