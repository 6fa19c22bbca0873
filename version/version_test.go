package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBuildInfo_ReturnsGoVersion(t *testing.T) {
	info := GetBuildInfo()
	assert.NotEmpty(t, info.GoVersion)
}

func TestGetModuleVersion_NeverEmpty(t *testing.T) {
	assert.NotEmpty(t, GetModuleVersion())
}

func TestGetDependency_UnknownModuleReturnsNil(t *testing.T) {
	assert.Nil(t, GetDependency("this/module/does/not/exist"))
}
