package screen

import (
	"regexp"
	"strings"

	"horse.fit/amscreen/internal/search"
)

// Company expansion: hits from corporate registries and regulators often
// reveal companies associated with the subject. Those companies get their
// own secondary adverse-media searches.

var registryDomains = []string{
	"gsxt.gov.cn",
	"qcc.com",
	"tianyancha.com",
	"qixin.com",
	"companieshouse.gov.uk",
	"sec.gov",
	"opencorporates.com",
	"cninfo.com.cn",
	"hkexnews.hk",
}

var companyNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[\p{Han}]{2,18}(?:股份有限公司|有限责任公司|有限公司|集团|控股)`),
	regexp.MustCompile(`(?:[A-Z][A-Za-z0-9&.'-]*\s)+(?:Inc|Corp|Corporation|Ltd|Limited|LLC|Holdings|Group)\b\.?`),
}

// DetectCompanies scans registry-domain hits for company names linked to the
// subject. Results are deduplicated and keep first-seen order.
func DetectCompanies(hits []search.Hit, subjectName string) []string {
	subject := strings.TrimSpace(subjectName)

	seen := make(map[string]struct{})
	var companies []string
	for _, hit := range hits {
		if !matchesDomain(Hostname(hit.URL), registryDomains) {
			continue
		}
		text := hit.Title + " " + hit.Snippet
		for _, pattern := range companyNamePatterns {
			for _, match := range pattern.FindAllString(text, -1) {
				name := strings.TrimSpace(strings.TrimSuffix(match, "."))
				if name == "" || name == subject {
					continue
				}
				key := strings.ToLower(name)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				companies = append(companies, name)
			}
		}
	}
	return companies
}
