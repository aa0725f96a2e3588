package models

// AppState is the editor's view state. Only the persistence layer reads it.
type AppState map[string]any

func (a AppState) Clone() AppState {
	if a == nil {
		return nil
	}
	out := make(AppState, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Scene is a full snapshot as the render engine holds it.
type Scene struct {
	Elements []Element `json:"elements"`
	AppState AppState  `json:"appState,omitempty"`
	Files    Files     `json:"files,omitempty"`
}
