package sysinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapture_PopulatesRuntimeFields(t *testing.T) {
	info := Capture()

	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.NotEmpty(t, info.Hostname)
	assert.GreaterOrEqual(t, info.CPULogical, 1)
}

func TestGetOSVersion_UnknownGOOSNotAssumed(t *testing.T) {
	// getOSVersion dispatches on runtime.GOOS directly; on linux/darwin it
	// must not fall through to "unknown".
	switch runtime.GOOS {
	case "linux", "darwin":
		assert.NotEqual(t, "unknown", getOSVersion())
	}
}

func TestDetectContainer_ReturnsRuntimeNameWhenContainerized(t *testing.T) {
	inContainer, runtimeName := detectContainer()
	if inContainer {
		assert.NotEmpty(t, runtimeName)
	} else {
		assert.Empty(t, runtimeName)
	}
}

func TestGetPhysicalCores_NeverZero(t *testing.T) {
	assert.Greater(t, getPhysicalCores(), 0)
}
