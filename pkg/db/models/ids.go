package models

import "github.com/google/uuid"

// ensureID assigns a v4 id when the caller did not supply one. Models use it
// from BeforeCreate so inserts behave the same on postgres, mysql and sqlite.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
