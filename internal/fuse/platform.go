//go:build !cgofuse
// +build !cgofuse

package fuse

import "github.com/fspropfaker/fspropfaker/pkg/utils"

func newDispatcher(cfg MountConfig, source StatfsSource, logger *utils.StructuredLogger) (Dispatcher, error) {
	return newGoFuseDispatcher(cfg, source, logger), nil
}
