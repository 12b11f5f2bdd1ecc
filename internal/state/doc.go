// Package state holds the synchronizer's in-memory history and selection,
// plus the filesystem-backed activity journal and image cache.
package state

import "github.com/user/mapic/internal/types"

// Compile-time interface compliance checks.
var _ types.ActivityLog = (*ActivityStore)(nil)
var _ types.ImageStore = (*ImageStore)(nil)
