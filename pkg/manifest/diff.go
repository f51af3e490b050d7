package manifest

// Diff is the difference between two manifest snapshots.
type Diff struct {
	// Added holds entries that are new or whose version specifier changed.
	Added Manifest `json:"added" yaml:"added"`

	// Removed holds entries that disappeared from the newer snapshot.
	Removed Manifest `json:"removed" yaml:"removed"`
}

// IsEmpty reports whether the diff contains no entries at all.
func (d Diff) IsEmpty() bool {
	return d.Added.Count() == 0 && d.Removed.Count() == 0
}

// Compare computes the per-section diff between old and new. It never fails;
// a section missing on either side is treated as empty.
func Compare(old, new Manifest) Diff {
	d := Diff{Added: New(), Removed: New()}

	for _, name := range Sections {
		before := old.Section(name)
		after := new.Section(name)

		for dep, version := range after {
			if prev, ok := before[dep]; !ok || prev != version {
				d.Added[name][dep] = version
			}
		}

		for dep, version := range before {
			if _, ok := after[dep]; !ok {
				d.Removed[name][dep] = version
			}
		}
	}

	return d
}
