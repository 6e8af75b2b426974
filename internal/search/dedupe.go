package search

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tutormarket/searchservice/internal/domain"
)

// DedupeOfferings collapses offerings that share a key (catalog id, else
// display name, else offering id). The first occurrence keeps its position;
// later duplicates only fill fields the retained entry is missing. When
// highlight names a retained entry that is not first, that entry is moved to
// the front and everything else keeps its relative order.
func DedupeOfferings(items []domain.ServiceOffering, highlight string) []domain.ServiceOffering {
	if len(items) == 0 {
		return nil
	}
	caser := newLowerCaser()

	out := make([]domain.ServiceOffering, 0, len(items))
	positions := make(map[string]int, len(items))
	for _, item := range items {
		key := offeringKey(caser, item)
		if key == "" {
			continue
		}
		if pos, ok := positions[key]; ok {
			backfillOffering(&out[pos], item)
			continue
		}
		positions[key] = len(out)
		out = append(out, cloneOffering(item))
	}

	highlightKey := normalizeKey(caser, highlight)
	if highlightKey == "" {
		return out
	}
	pos, ok := positions[highlightKey]
	if !ok || pos == 0 {
		return out
	}
	promoted := out[pos]
	copy(out[1:pos+1], out[:pos])
	out[0] = promoted
	return out
}

// newLowerCaser returns a fresh caser; cases.Caser is stateful and must not be
// shared between goroutines.
func newLowerCaser() cases.Caser {
	return cases.Lower(language.Und)
}

func offeringKey(caser cases.Caser, item domain.ServiceOffering) string {
	if key := normalizeKey(caser, item.CatalogID); key != "" {
		return key
	}
	if key := normalizeKey(caser, item.Name); key != "" {
		return key
	}
	return normalizeKey(caser, item.ID)
}

func normalizeKey(caser cases.Caser, raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	return caser.String(value)
}

func backfillOffering(dst *domain.ServiceOffering, src domain.ServiceOffering) {
	if dst.ID == "" {
		dst.ID = src.ID
	}
	if dst.CatalogID == "" {
		dst.CatalogID = src.CatalogID
	}
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}
	if dst.HourlyRate == 0 {
		dst.HourlyRate = src.HourlyRate
	}
	if len(dst.DurationOptions) == 0 && len(src.DurationOptions) > 0 {
		dst.DurationOptions = append([]int(nil), src.DurationOptions...)
	}
	if dst.Active == nil && src.Active != nil {
		dst.Active = domain.BoolPtr(*src.Active)
	}
	if len(dst.Levels) == 0 && len(src.Levels) > 0 {
		dst.Levels = append([]string(nil), src.Levels...)
	}
	if len(dst.AgeGroups) == 0 && len(src.AgeGroups) > 0 {
		dst.AgeGroups = append([]string(nil), src.AgeGroups...)
	}
	if len(dst.LocationTypes) == 0 && len(src.LocationTypes) > 0 {
		dst.LocationTypes = append([]string(nil), src.LocationTypes...)
	}
	if dst.OffersTravel == nil && src.OffersTravel != nil {
		dst.OffersTravel = domain.BoolPtr(*src.OffersTravel)
	}
	if dst.OffersAtLocation == nil && src.OffersAtLocation != nil {
		dst.OffersAtLocation = domain.BoolPtr(*src.OffersAtLocation)
	}
	if dst.OffersOnline == nil && src.OffersOnline != nil {
		dst.OffersOnline = domain.BoolPtr(*src.OffersOnline)
	}
}

func cloneOffering(item domain.ServiceOffering) domain.ServiceOffering {
	cloned := item
	cloned.DurationOptions = append([]int(nil), item.DurationOptions...)
	cloned.Levels = append([]string(nil), item.Levels...)
	cloned.AgeGroups = append([]string(nil), item.AgeGroups...)
	cloned.LocationTypes = append([]string(nil), item.LocationTypes...)
	if item.Active != nil {
		cloned.Active = domain.BoolPtr(*item.Active)
	}
	if item.OffersTravel != nil {
		cloned.OffersTravel = domain.BoolPtr(*item.OffersTravel)
	}
	if item.OffersAtLocation != nil {
		cloned.OffersAtLocation = domain.BoolPtr(*item.OffersAtLocation)
	}
	if item.OffersOnline != nil {
		cloned.OffersOnline = domain.BoolPtr(*item.OffersOnline)
	}
	return cloned
}
