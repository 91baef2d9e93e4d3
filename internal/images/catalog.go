package images

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// Entry is one image of the catalog file as written by the user.
type Entry struct {
	Name            string            `toml:"-"`
	Description     string            `toml:"description,omitempty"`
	URL             string            `toml:"url"`
	GetURLProg      string            `toml:"get-url-prog,omitempty"`
	Change          []string          `toml:"change,omitempty"`
	UpdateAfterDays *int              `toml:"update-after-days,omitempty"`
	ArchMapping     map[string]string `toml:"arch-mapping,omitempty"`

	// Directives is Change parsed at load time.
	Directives Directives `toml:"-"`
}

// ParseCatalog decodes a catalog file into entries sorted by name.
func ParseCatalog(data []byte) ([]Entry, error) {
	raw := map[string]Entry{}
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(raw))
	for name, e := range raw {
		e.Name = name
		e.Directives = ParseDirectives(e.Change)
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// EncodeCatalog writes header followed by the entries in name order.
func EncodeCatalog(header []byte, entries []Entry) ([]byte, error) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	buf.Write(header)
	for i, e := range sorted {
		if i > 0 {
			buf.WriteByte('\n')
		}
		data, err := toml.Marshal(map[string]Entry{e.Name: e})
		if err != nil {
			return nil, fmt.Errorf("encode image %s: %w", e.Name, err)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// Merge joins the upstream catalog (newer) with the local one (older). Both
// must be sorted by name. Entries only in older survive unless marked delete,
// entries only in newer are added as is, and entries in both are merged field
// by field according to the local entry's directives.
func Merge(newer, older []Entry) []Entry {
	merged := make([]Entry, 0, max(len(newer), len(older)))

	i, j := 0, 0
	for i < len(newer) || j < len(older) {
		switch {
		case i == len(newer) || (j < len(older) && older[j].Name < newer[i].Name):
			if !older[j].Directives.Delete {
				merged = append(merged, older[j])
			}
			j++
		case j == len(older) || newer[i].Name < older[j].Name:
			merged = append(merged, newer[i])
			i++
		default:
			merged = append(merged, mergeEntry(newer[i], older[j]))
			i++
			j++
		}
	}

	return merged
}

func mergeEntry(newer, older Entry) Entry {
	d := older.Directives
	out := older

	if d.TakeNew(FieldURL) {
		out.URL = newer.URL
	}
	if d.TakeNew(FieldGetURLProg) {
		out.GetURLProg = newer.GetURLProg
	}
	if d.TakeNew(FieldDescription) {
		out.Description = newer.Description
	}
	if d.TakeNew(FieldChange) {
		out.Change = newer.Change
	}
	if d.TakeNew(FieldUpdateAfterDays) {
		out.UpdateAfterDays = newer.UpdateAfterDays
	}
	if d.TakeNew(FieldArchMapping) {
		out.ArchMapping = newer.ArchMapping
	}

	out.Directives = ParseDirectives(out.Change)
	return out
}

// Synchronize merges the embedded upstream catalog into the local catalog file
// and rewrites it with header on top.
func Synchronize(path string, embedded, header []byte) error {
	newer, err := ParseCatalog(embedded)
	if err != nil {
		return fmt.Errorf("%w: embedded catalog: %w", ErrCatalogParse, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCatalogRead, path, err)
	}
	older, err := ParseCatalog(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCatalogParse, path, err)
	}

	out, err := EncodeCatalog(header, Merge(newer, older))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCatalogWrite, err)
	}

	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCatalogWrite, path, err)
	}
	return nil
}
