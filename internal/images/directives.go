package images

import "strings"

// Field names a mergeable catalog entry field. The value is the TOML key.
type Field string

const (
	FieldURL             Field = "url"
	FieldGetURLProg      Field = "get-url-prog"
	FieldDescription     Field = "description"
	FieldChange          Field = "change"
	FieldUpdateAfterDays Field = "update-after-days"
	FieldArchMapping     Field = "arch-mapping"
)

// Fields lists every field the catalog merge considers.
var Fields = []Field{
	FieldURL,
	FieldGetURLProg,
	FieldDescription,
	FieldChange,
	FieldUpdateAfterDays,
	FieldArchMapping,
}

const (
	directiveDelete    = "delete"
	directiveUpdateAll = "update-all"
	prefixKeep         = "keep-"
	prefixUpdate       = "update-"
)

// Directives is the parsed form of an entry's change list.
type Directives struct {
	Delete    bool
	UpdateAll bool
	Keep      map[Field]bool
	Update    map[Field]bool
}

// ParseDirectives parses a change list. Unknown directives are ignored so that
// catalogs written for newer versions keep loading.
func ParseDirectives(change []string) Directives {
	d := Directives{
		Keep:   map[Field]bool{},
		Update: map[Field]bool{},
	}
	for _, raw := range change {
		switch directive := strings.TrimSpace(raw); {
		case directive == directiveDelete:
			d.Delete = true
		case directive == directiveUpdateAll:
			d.UpdateAll = true
		case strings.HasPrefix(directive, prefixKeep):
			if f, ok := lookupField(strings.TrimPrefix(directive, prefixKeep)); ok {
				d.Keep[f] = true
			}
		case strings.HasPrefix(directive, prefixUpdate):
			if f, ok := lookupField(strings.TrimPrefix(directive, prefixUpdate)); ok {
				d.Update[f] = true
			}
		}
	}
	return d
}

// TakeNew reports whether the upstream value of f replaces the local one.
// keep-<f> always wins; otherwise update-all or update-<f> take upstream.
func (d Directives) TakeNew(f Field) bool {
	if d.Keep[f] {
		return false
	}
	return d.UpdateAll || d.Update[f]
}

func lookupField(name string) (Field, bool) {
	for _, f := range Fields {
		if string(f) == name {
			return f, true
		}
	}
	return "", false
}
