package cipher

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// HasAESHardwareSupport reports whether the running CPU has AES-NI (or
// the ARMv8/S390x equivalent), adapted from the teacher's
// internal/crypto/hardware.go.
func HasAESHardwareSupport() bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	case "s390x":
		return cpu.S390X.HasAES
	default:
		return false
	}
}

// HardwareInfo summarizes AES acceleration availability for the
// hardware_acceleration_enabled metrics gauge and /debug endpoints.
type HardwareInfo struct {
	AESHardwareSupport bool   `json:"aes_hardware_support"`
	Architecture       string `json:"architecture"`
	GoVersion          string `json:"go_version"`
}

// GetHardwareInfo returns the current hardware acceleration snapshot.
func GetHardwareInfo() HardwareInfo {
	return HardwareInfo{
		AESHardwareSupport: HasAESHardwareSupport(),
		Architecture:       runtime.GOARCH,
		GoVersion:          runtime.Version(),
	}
}
