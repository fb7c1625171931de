package google

import (
	"strings"

	"pinintel/internal/domain"
)

// The detail payload is irregular across provider versions; decode it
// leniently through dot-path lookups instead of rigid structs.

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

func lookupStr(m map[string]any, path string) string {
	if v := lookupAny(m, path); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func lookupF64(m map[string]any, path string) float64 {
	switch v := lookupAny(m, path).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func lookupSlice(m map[string]any, path string) []any {
	if v, ok := lookupAny(m, path).([]any); ok {
		return v
	}
	return nil
}

// componentTypes we care about, mapped to Place fields.
var componentFields = map[string]string{
	"locality":                    "locality",
	"postal_town":                 "locality",
	"administrative_area_level_1": "region",
	"country":                     "country",
}

func mapDetails(id string, r map[string]any) domain.Place {
	p := domain.Place{
		Name:     lookupStr(r, "name"),
		Address:  lookupStr(r, "formatted_address"),
		Website:  lookupStr(r, "website"),
		Source:   domain.SourceGoogle,
		SourceID: lookupStr(r, "place_id"),
		Coordinates: domain.Coords{
			Lat: lookupF64(r, "geometry.location.lat"),
			Lon: lookupF64(r, "geometry.location.lng"),
		},
		Confidence: lookupF64(r, "rating") / 5.0,
	}
	if p.SourceID == "" {
		p.SourceID = id
	}
	if p.Website != "" {
		p.WebsiteFrom = "provider"
	}

	// First non-generic type wins as the category leaf.
	for _, t := range lookupSlice(r, "types") {
		s, _ := t.(string)
		if s == "" || s == "point_of_interest" || s == "establishment" {
			continue
		}
		p.Category = s
		break
	}

	for _, c := range lookupSlice(r, "address_components") {
		comp, ok := c.(map[string]any)
		if !ok {
			continue
		}
		name := lookupStr(comp, "long_name")
		for _, t := range lookupSlice(comp, "types") {
			ts, _ := t.(string)
			switch componentFields[ts] {
			case "locality":
				if p.Locality == "" {
					p.Locality = name
				}
			case "region":
				if p.Region == "" {
					p.Region = name
				}
			case "country":
				if p.Country == "" {
					p.Country = name
				}
			}
		}
	}

	for _, ph := range lookupSlice(r, "photos") {
		pm, ok := ph.(map[string]any)
		if !ok {
			continue
		}
		if ref := lookupStr(pm, "photo_reference"); ref != "" {
			p.PhotoRefs = append(p.PhotoRefs, ref)
		}
	}
	return p
}
