package config

// Network modes
const (
	NetworkNone     = "none"
	NetworkFiltered = "filtered"
	NetworkOpen     = "open"
)

// Security levels
const (
	LevelMinimal  = "minimal"
	LevelStandard = "standard"
	LevelStrict   = "strict"
	LevelParanoid = "paranoid"
)

// Forced sandbox modes
const (
	ForceOverlay  = "overlay"
	ForceWorktree = "worktree"
)

// User settings
const (
	UserAuto = "auto"
)
