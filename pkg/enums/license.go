package enums

import "fmt"

// LicenseStatus is the state the downstream license server keeps for a key.
type LicenseStatus string

const (
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusTrial     LicenseStatus = "trial"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusRevoked   LicenseStatus = "revoked"
)

var validLicenseStatuses = []LicenseStatus{
	LicenseStatusActive,
	LicenseStatusTrial,
	LicenseStatusSuspended,
	LicenseStatusRevoked,
}

// String implements fmt.Stringer.
func (l LicenseStatus) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LicenseStatus.
func (l LicenseStatus) IsValid() bool {
	for _, candidate := range validLicenseStatuses {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLicenseStatus converts raw input into LicenseStatus.
func ParseLicenseStatus(value string) (LicenseStatus, error) {
	for _, candidate := range validLicenseStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid license status %q", value)
}

// LicenseAddon identifies a feature addon a license can carry.
type LicenseAddon string

const (
	LicenseAddonRouteOptimization LicenseAddon = "route_optimization"
	LicenseAddonGPT4o             LicenseAddon = "gpt4o"
)

var validLicenseAddons = []LicenseAddon{
	LicenseAddonRouteOptimization,
	LicenseAddonGPT4o,
}

// String implements fmt.Stringer.
func (l LicenseAddon) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LicenseAddon.
func (l LicenseAddon) IsValid() bool {
	for _, candidate := range validLicenseAddons {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLicenseAddon converts raw input into LicenseAddon.
func ParseLicenseAddon(value string) (LicenseAddon, error) {
	for _, candidate := range validLicenseAddons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid license addon %q", value)
}
