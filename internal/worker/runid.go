package worker

import (
	"github.com/google/uuid"

	"github.com/paperharvest/paperharvest/internal/progress"
)

func parseRunID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, err
	}
	return progress.UUIDToBytes(id), nil
}
