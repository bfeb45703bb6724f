package interfaces

import "errors"

var (
	// ErrStatusConflict is returned by SessionStore.UpdateStatus and
	// AttachAnalysis when the stored status no longer matches the expected one.
	ErrStatusConflict = errors.New("session status changed concurrently")

	// ErrRoomIDTaken is returned by SessionStore.CreateSession when another
	// session already owns the room id.
	ErrRoomIDTaken = errors.New("room id already in use")
)
