package models

import "time"

// User is the ephemeral presence entry for one connected collaborator.
// It is rebuilt from scratch on reconnect and never persisted.
type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Color      string     `json:"color"`
	Cursor     CursorPos  `json:"cursor"`
	Selection  *string    `json:"selection"`
	Camera     CameraPose `json:"viewportCamera"`
	LastActive time.Time  `json:"lastActive"`
}

// CursorPos is a 2D viewport cursor position.
type CursorPos struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CameraPose is a viewport camera position plus look-at target.
type CameraPose struct {
	Position Vec3 `json:"position"`
	Target   Vec3 `json:"target"`
}
