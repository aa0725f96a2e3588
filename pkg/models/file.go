package models

// File is a binary asset referenced by elements through FileID. A file
// without payload is a placeholder and is never sent or persisted.
type File struct {
	ID       string `json:"id"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"dataURL"`
	Created  int64  `json:"created,omitempty"`
}

func (f File) IsReal() bool {
	return len(f.Data) > 0
}

// Files is keyed by file id.
type Files map[string]File

// Merge returns a new map holding f overlaid with other.
func (f Files) Merge(other Files) Files {
	out := make(Files, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (f Files) List() []File {
	out := make([]File, 0, len(f))
	for _, v := range f {
		out = append(out, v)
	}
	return out
}

func FilesFromList(list []File) Files {
	out := make(Files, len(list))
	for _, v := range list {
		out[v.ID] = v
	}
	return out
}
