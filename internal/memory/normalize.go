package memory

import "github.com/tidwall/gjson"

// normalize extracts items from a backend response. The list is either the
// response itself or its "data" field. Elements are read through field
// aliases; anything without an id or snippet is dropped. Items without a
// scope take the requested one.
func normalize(res gjson.Result, scope string) []Item {
	list := res
	if !list.IsArray() {
		list = res.Get("data")
	}
	items := []Item{}
	if !list.IsArray() {
		return items
	}

	list.ForEach(func(_, v gjson.Result) bool {
		if item, ok := normalizeItem(v, scope); ok {
			items = append(items, item)
		}
		return true
	})
	return items
}

func normalizeItem(v gjson.Result, scope string) (Item, bool) {
	if !v.IsObject() {
		return Item{}, false
	}
	item := Item{
		ID:        firstString(v, "id", "_id", "uuid"),
		Scope:     firstString(v, "scope"),
		Snippet:   firstString(v, "snippet", "text", "content"),
		UpdatedAt: firstString(v, "updatedAt", "updated_at", "timestamp"),
	}
	if item.ID == "" || item.Snippet == "" {
		return Item{}, false
	}
	if item.Scope == "" {
		item.Scope = scope
	}
	if s := v.Get("score"); s.Type == gjson.Number {
		score := s.Num
		item.Score = &score
	}
	return item, true
}

// firstString returns the first path that is present and not null, as a
// string. Numbers keep their literal form so large ids survive. Objects
// and arrays do not resolve.
func firstString(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := v.Get(p)
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}
		switch r.Type {
		case gjson.String:
			return r.Str
		case gjson.Number, gjson.True, gjson.False:
			return r.Raw
		default:
			return ""
		}
	}
	return ""
}
