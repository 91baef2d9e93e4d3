package images

import "runtime"

// unameArch maps GOARCH values to the machine names used by distributions
// and by qemu-system-* binaries.
var unameArch = map[string]string{
	"amd64":   "x86_64",
	"arm64":   "aarch64",
	"386":     "i686",
	"arm":     "armv7l",
	"ppc64le": "ppc64le",
	"riscv64": "riscv64",
	"s390x":   "s390x",
}

// HostArch returns the host machine name (x86_64, aarch64, ...).
func HostArch() string {
	if arch, ok := unameArch[runtime.GOARCH]; ok {
		return arch
	}
	return runtime.GOARCH
}
