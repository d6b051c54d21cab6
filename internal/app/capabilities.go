package app

import (
	"context"
	"strings"

	"github.com/odyssey-erp/odyssey-pallets/internal/pallet"
)

// NewCapabilityChecker grants every capability except to read-only actors,
// who may still request prints.
func NewCapabilityChecker(cfg *Config) pallet.CapabilityChecker {
	readOnly := make(map[string]struct{})
	if cfg != nil {
		for _, actor := range cfg.ReadOnlyActors {
			if actor = strings.ToLower(strings.TrimSpace(actor)); actor != "" {
				readOnly[actor] = struct{}{}
			}
		}
	}
	return pallet.CapabilityFunc(func(_ context.Context, actor string, c pallet.Capability) bool {
		if _, ok := readOnly[strings.ToLower(actor)]; ok {
			return c == pallet.CapabilityPrint
		}
		return true
	})
}
