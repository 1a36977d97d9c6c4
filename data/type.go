package data

// ItemType identifies what a backend resolved a path to.
// A backend resolves every existing path to exactly one of these.
type ItemType int

const (
	ItemTypeFile ItemType = iota // Regular file
	ItemTypeFolder
	ItemTypeSymlink
)

func (t ItemType) String() string {
	switch t {
	case ItemTypeFile:
		return "file"
	case ItemTypeFolder:
		return "folder"
	case ItemTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}
