package classify

import (
	"strings"

	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
)

// MatchCompany resolves a model-reported company name against the roster.
// Matching is layered: exact normalized name first, then substring
// containment in either direction for names at least 4 chars long. The first
// roster hit wins.
func MatchCompany(name string, companies []model.Company) (model.Company, bool) {
	norm := model.NormalizeCompanyName(name)
	if norm == "" {
		return model.Company{}, false
	}

	for _, co := range companies {
		if model.NormalizeCompanyName(co.Name) == norm {
			return co, true
		}
	}

	// "Validic Health" vs "Validic". Short names are excluded to avoid
	// accidental hits like "Arc" inside "Marchex".
	if len(norm) >= 4 {
		for _, co := range companies {
			coNorm := model.NormalizeCompanyName(co.Name)
			if len(coNorm) < 4 {
				continue
			}
			if strings.Contains(norm, coNorm) || strings.Contains(coNorm, norm) {
				return co, true
			}
		}
	}

	return model.Company{}, false
}
