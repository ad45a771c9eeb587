// Package router maps a classified category onto a department mailbox
// address, using the static table the classifier was originally built
// against.
package router

import (
	"github.com/ignite/apex-triage/internal/config"
	"github.com/ignite/apex-triage/internal/domain"
)

// Route resolves a category to the configured department mailbox. Every
// category not explicitly listed falls through to Policy Services, the
// catch-all bucket in the original routing table.
func Route(cfg config.RoutingConfig, category domain.Category) string {
	switch category {
	case domain.CategoryVehicleTracking:
		return cfg.Tracking
	case domain.CategoryClaims:
		return cfg.Claims
	case domain.CategoryRetentions:
		return cfg.DigitalComms
	case domain.CategoryPreviousInsuranceQueries:
		return cfg.InsuranceAdmin
	case domain.CategoryDocumentRequest, domain.CategoryOnlineApp, domain.CategoryDebitOrderSwitch:
		return cfg.OnlineSupport
	default:
		return cfg.PolicyServices
	}
}
