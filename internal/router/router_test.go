package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/apex-triage/internal/config"
	"github.com/ignite/apex-triage/internal/domain"
)

func testRoutingConfig() config.RoutingConfig {
	return config.RoutingConfig{
		PolicyServices: "policyservices@example.com",
		Tracking:       "tracking@example.com",
		Claims:         "claims@example.com",
		OnlineSupport:  "onlinesupport@example.com",
		InsuranceAdmin: "insuranceadmin@example.com",
		DigitalComms:   "digitalcomms@example.com",
	}
}

func TestRouteDirectMappings(t *testing.T) {
	cfg := testRoutingConfig()

	assert.Equal(t, cfg.Tracking, Route(cfg, domain.CategoryVehicleTracking))
	assert.Equal(t, cfg.Claims, Route(cfg, domain.CategoryClaims))
	assert.Equal(t, cfg.DigitalComms, Route(cfg, domain.CategoryRetentions))
	assert.Equal(t, cfg.InsuranceAdmin, Route(cfg, domain.CategoryPreviousInsuranceQueries))
}

func TestRouteOnlineSupportGrouping(t *testing.T) {
	cfg := testRoutingConfig()

	for _, cat := range []domain.Category{
		domain.CategoryDocumentRequest,
		domain.CategoryOnlineApp,
		domain.CategoryDebitOrderSwitch,
	} {
		assert.Equal(t, cfg.OnlineSupport, Route(cfg, cat), "category %s should route to online support", cat)
	}
}

func TestRouteDefaultsToPolicyServices(t *testing.T) {
	cfg := testRoutingConfig()

	for _, cat := range []domain.Category{
		domain.CategoryAmendments,
		domain.CategoryAssist,
		domain.CategoryBadServiceExperience,
		domain.CategoryRefundRequest,
		domain.CategoryRequestForQuote,
		domain.CategoryOther,
	} {
		assert.Equal(t, cfg.PolicyServices, Route(cfg, cat), "category %s should fall through to policy services", cat)
	}
}
