// Package version pins the release version stamped into builds.
package version

// Current is the module version without a v prefix, as release
// tooling expects it.
const Current = "0.1.0"
