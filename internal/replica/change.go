package replica

// ChangeKind classifies a visible change to one file.
type ChangeKind int

const (
	FileCreated ChangeKind = iota
	FileRemoved
	TextChanged
	SaveRequested
)

func (k ChangeKind) String() string {
	switch k {
	case FileCreated:
		return "created"
	case FileRemoved:
		return "removed"
	case TextChanged:
		return "text-changed"
	case SaveRequested:
		return "save-requested"
	}
	return "unknown"
}

// Change describes how one file moved between two document states.
type Change struct {
	Kind    ChangeKind
	Path    string
	OldText string
	NewText string
	Origin  any
	// Local is set when the change came from this replica's own mutation.
	Local bool
}

type snapshot struct {
	exists bool
	text   string
	saves  uint64
}

func (d *Doc) snapshot(path string) snapshot {
	f, ok := d.files[path]
	if !ok {
		return snapshot{}
	}
	return snapshot{exists: true, text: string(f.text), saves: f.saves}
}

func diffSnapshots(path string, before, after snapshot, origin any) []Change {
	base := Change{Path: path, OldText: before.text, NewText: after.text, Origin: origin, Local: origin == nil}
	var out []Change
	switch {
	case !before.exists && after.exists:
		c := base
		c.Kind = FileCreated
		out = append(out, c)
	case before.exists && !after.exists:
		c := base
		c.Kind = FileRemoved
		out = append(out, c)
	case before.exists && after.exists && before.text != after.text:
		c := base
		c.Kind = TextChanged
		out = append(out, c)
	}
	if after.exists && after.saves > before.saves {
		c := base
		c.Kind = SaveRequested
		out = append(out, c)
	}
	return out
}
