// Package version carries build identity, overridable at link time:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.3"
package version

var (
	AppName = "WoolooBot"
	Version = "dev"
)
