package ledger

import (
	"fmt"
	"sort"

	"github.com/tjfontaine/carelog/internal/domain"
)

// DefaultSignupBonus is credited to every new wallet.
const DefaultSignupBonus int64 = 10

// DefaultPlanID is assumed when a subscription event names no plan.
const DefaultPlanID = "care_plus"

var featureCosts = map[domain.Feature]int64{
	domain.FeatureLabTranslation: 2,
	domain.FeatureHealthInsight:  1,
	domain.FeatureDoctorBrief:    3,
}

var packages = map[string]domain.Package{
	"try_it_out":   {ID: "try_it_out", Name: "Try It Out", Credits: 50},
	"monthly_care": {ID: "monthly_care", Name: "Monthly Care", Credits: 150},
	"yearly_care":  {ID: "yearly_care", Name: "Yearly Care", Credits: 500},
}

var plans = map[string]domain.Plan{
	DefaultPlanID: {ID: DefaultPlanID, Name: "Care Plus", Unlimited: true},
}

// FeatureCost returns the credit cost of a feature.
func FeatureCost(f domain.Feature) (int64, error) {
	cost, ok := featureCosts[f]
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownFeature, f)
	}
	return cost, nil
}

// LookupPackage returns the credit package with the given id.
func LookupPackage(packageID string) (domain.Package, error) {
	p, ok := packages[packageID]
	if !ok {
		return domain.Package{}, fmt.Errorf("%w: %q", domain.ErrUnknownPackage, packageID)
	}
	return p, nil
}

// LookupPlan returns the plan with the given id. Unknown plans are
// reported as not unlimited.
func LookupPlan(planID string) (domain.Plan, bool) {
	p, ok := plans[planID]
	return p, ok
}

// Packages lists the purchasable packages ordered by credits.
func Packages() []domain.Package {
	out := make([]domain.Package, 0, len(packages))
	for _, p := range packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}

// Features lists the metered features ordered by name.
func Features() []domain.Feature {
	out := make([]domain.Feature, 0, len(featureCosts))
	for f := range featureCosts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
