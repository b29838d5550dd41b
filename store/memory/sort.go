package memory

import (
	"sort"

	"github.com/modforge/authcore"
)

// sortKeys orders keys newest first, then by ID.
func sortKeys(keys []authcore.APIKey) {
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		}
		return keys[i].ID < keys[j].ID
	})
}
