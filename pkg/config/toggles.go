package config

// Toggle names, one per optional stage. The prepare, report, and version
// correlation steps are unconditional and have no toggle.
const (
	ToggleSAST           = "sast"
	ToggleDependencyScan = "dependency_scan"
	ToggleSetupEnv       = "setup_env"
	ToggleUnitTests      = "unit_tests"
	ToggleImageBuild     = "image_build"
	ToggleDeployDAST     = "deploy_dast"
	ToggleDAST           = "dast"
	TogglePublish        = "publish"
	ToggleNotify         = "notify"
)

var toggleNames = []string{
	ToggleSAST,
	ToggleDependencyScan,
	ToggleSetupEnv,
	ToggleUnitTests,
	ToggleImageBuild,
	ToggleDeployDAST,
	ToggleDAST,
	TogglePublish,
	ToggleNotify,
}

// DefaultToggles returns the full toggle set with every stage enabled.
func DefaultToggles() map[string]bool {
	toggles := make(map[string]bool, len(toggleNames))
	for _, name := range toggleNames {
		toggles[name] = true
	}

	return toggles
}

// MergeToggles overlays explicit settings on the defaults. The result always
// contains every known toggle.
func MergeToggles(overrides map[string]bool) map[string]bool {
	toggles := DefaultToggles()
	for name, enabled := range overrides {
		toggles[name] = enabled
	}

	return toggles
}

// KnownToggle reports whether name is a defined toggle.
func KnownToggle(name string) bool {
	for _, known := range toggleNames {
		if known == name {
			return true
		}
	}

	return false
}

// ToggleNames returns the defined toggle names in stage order.
func ToggleNames() []string {
	names := make([]string, len(toggleNames))
	copy(names, toggleNames)

	return names
}
