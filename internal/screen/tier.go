package screen

// Source credibility tiers. Tier 1 covers top wire and regulatory sources,
// tier 2 mid-tier regional and portal sources, everything else is tier 3.
// Lists are ordered by rough prominence; lookup only needs membership.

var tier1Domains = []string{
	"reuters.com",
	"bloomberg.com",
	"ft.com",
	"wsj.com",
	"apnews.com",
	"afp.com",
	"xinhuanet.com",
	"caixin.com",
	"sec.gov",
	"justice.gov",
	"csrc.gov.cn",
	"court.gov.cn",
}

var tier2Domains = []string{
	"scmp.com",
	"nikkei.com",
	"cnbc.com",
	"theguardian.com",
	"21jingji.com",
	"yicai.com",
	"thepaper.cn",
	"jiemian.com",
	"sina.com.cn",
	"163.com",
	"qq.com",
	"sohu.com",
	"ifeng.com",
}

// Tier derives a 1-3 credibility rank from a URL's domain. Deterministic:
// same URL always gets the same tier.
func Tier(rawURL string) int {
	host := Hostname(rawURL)
	if matchesDomain(host, tier1Domains) {
		return 1
	}
	if matchesDomain(host, tier2Domains) {
		return 2
	}
	return 3
}
