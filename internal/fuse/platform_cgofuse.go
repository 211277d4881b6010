//go:build cgofuse && (linux || darwin)
// +build cgofuse
// +build linux darwin

package fuse

import "github.com/fspropfaker/fspropfaker/pkg/utils"

func newDispatcher(cfg MountConfig, source StatfsSource, logger *utils.StructuredLogger) (Dispatcher, error) {
	return newCgoFuseDispatcher(cfg, source, logger), nil
}
