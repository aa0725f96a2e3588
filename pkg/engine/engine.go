// Package engine describes the render engine scenesync drives: the component
// that owns the drawing surface, reports local mutations and accepts merged
// scenes back.
package engine

import "github.com/surrealdb/scenesync/pkg/models"

// SceneUpdate is pushed into the engine. Nil fields leave that part of the
// engine state as it is.
type SceneUpdate struct {
	Elements []models.Element
	AppState models.AppState
	Files    models.Files
}

type Engine interface {
	// ElementsIncludingDeleted returns the full element list, tombstones included.
	ElementsIncludingDeleted() []models.Element
	Files() models.Files
	AppState() models.AppState
	UpdateScene(update SceneUpdate)
	AddFiles(files []models.File)
}

// Updater is implemented by engines that can merge into their current scene
// atomically. fn sees a copy of the current elements and files and must not
// call back into the engine.
type Updater interface {
	UpdateSceneFunc(fn func(current []models.Element, files models.Files) SceneUpdate)
}

// ChangeFunc is the onSceneChange notification an engine fires on every
// scene mutation.
type ChangeFunc func(elements []models.Element, appState models.AppState, files models.Files)

// Observable is implemented by engines that report scene changes through a
// callback. Passing nil removes the callback.
type Observable interface {
	OnChange(fn ChangeFunc)
}
