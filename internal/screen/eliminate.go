package screen

import (
	"regexp"
	"strings"

	"horse.fit/amscreen/internal/search"
)

type Verdict string

const (
	VerdictPassed     Verdict = "passed"
	VerdictBypassed   Verdict = "bypassed"
	VerdictEliminated Verdict = "eliminated"
)

type Reason string

const (
	ReasonNoiseDomain             Reason = "noise_domain"
	ReasonTrashDomain             Reason = "trash_domain"
	ReasonNoiseTitlePattern       Reason = "noise_title_pattern"
	ReasonNameCharacterSeparation Reason = "name_character_separation"
	ReasonMissingRequiredToken    Reason = "missing_required_token"
	ReasonPartOfLongerName        Reason = "part_of_longer_name"
)

// maxCJKCharGap bounds how far apart consecutive characters of a CJK name
// may sit before the match is considered scattered across unrelated text.
const maxCJKCharGap = 10

type Elimination struct {
	Hit    search.Hit `json:"hit"`
	Reason Reason     `json:"reason"`
}

// Partition is the full, loss-free outcome of elimination:
// Passed + Bypassed + Eliminated always equals the input.
type Partition struct {
	Passed     []search.Hit   `json:"passed"`
	Bypassed   []search.Hit   `json:"bypassed"`
	Eliminated []Elimination  `json:"eliminated"`
	Breakdown  map[Reason]int `json:"breakdown"`
}

// Trusted registries and regulators skip elimination entirely: a filing that
// never mentions the subject's name in its title is still evidence.
var bypassDomains = []string{
	"sec.gov",
	"justice.gov",
	"ofac.treasury.gov",
	"fca.org.uk",
	"companieshouse.gov.uk",
	"csrc.gov.cn",
	"court.gov.cn",
	"gsxt.gov.cn",
	"cninfo.com.cn",
	"hkexnews.hk",
}

var trashDomains = []string{
	"pinterest.com",
	"facebook.com",
	"instagram.com",
	"tiktok.com",
	"douyin.com",
	"slideshare.net",
	"scribd.com",
	"doc88.com",
	"docin.com",
}

var noiseDomains = []string{
	"linkedin.com",
	"zhaopin.com",
	"51job.com",
	"liepin.com",
	"amazon.com",
	"taobao.com",
	"jd.com",
	"music.163.com",
	"douban.com",
	"dianping.com",
	"youtube.com",
	"baike.baidu.com",
	"zhidao.baidu.com",
}

var noiseTitlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(resume|curriculum vitae|job opening|hiring|vacancy)\b`),
	regexp.MustCompile(`(?i)\b(lyrics|chords|album review)\b`),
	regexp.MustCompile(`(?i)\b(recipe|menu|restaurant review)\b`),
	regexp.MustCompile(`(?i)\b(coupon|discount code|promo code)\b`),
	regexp.MustCompile(`(招聘|简历|求职)`),
	regexp.MustCompile(`(歌词|歌单|专辑)`),
	regexp.MustCompile(`(菜谱|食谱|优惠券)`),
	regexp.MustCompile(`(同名同姓|重名查询)`),
}

// Eliminate applies the ordered noise predicates to every hit. The first
// matching predicate wins. It is a pure function over its inputs and calls
// no external service, so re-running it on resume is free.
func Eliminate(hits []search.Hit, subjectName string) Partition {
	part := Partition{
		Passed:     make([]search.Hit, 0, len(hits)),
		Bypassed:   make([]search.Hit, 0),
		Eliminated: make([]Elimination, 0),
		Breakdown:  make(map[Reason]int),
	}

	subject := strings.TrimSpace(subjectName)
	for _, hit := range hits {
		verdict, reason := judge(hit, subject)
		switch verdict {
		case VerdictBypassed:
			part.Bypassed = append(part.Bypassed, hit)
		case VerdictEliminated:
			part.Eliminated = append(part.Eliminated, Elimination{Hit: hit, Reason: reason})
			part.Breakdown[reason]++
		default:
			part.Passed = append(part.Passed, hit)
		}
	}
	return part
}

func judge(hit search.Hit, subject string) (Verdict, Reason) {
	host := Hostname(hit.URL)

	if matchesDomain(host, bypassDomains) {
		return VerdictBypassed, ""
	}
	if matchesDomain(host, trashDomains) {
		return VerdictEliminated, ReasonTrashDomain
	}
	if matchesDomain(host, noiseDomains) {
		return VerdictEliminated, ReasonNoiseDomain
	}
	for _, pattern := range noiseTitlePatterns {
		if pattern.MatchString(hit.Title) {
			return VerdictEliminated, ReasonNoiseTitlePattern
		}
	}

	if subject == "" {
		return VerdictPassed, ""
	}

	text := hit.Title + " " + hit.Snippet
	if containsHan(subject) {
		return judgeCJKName(text, subject)
	}
	return judgeLatinName(text, subject)
}

// judgeCJKName accepts non-contiguous character matches for CJK names but
// rejects matches whose characters span unrelated text, and matches that
// only ever occur inside a longer name.
func judgeCJKName(text, subject string) (Verdict, Reason) {
	name := []rune(strings.ReplaceAll(subject, " ", ""))
	if len(name) == 0 {
		return VerdictPassed, ""
	}
	runes := []rune(text)

	if positions := contiguousOccurrences(runes, name); len(positions) > 0 {
		for _, pos := range positions {
			if !looksLikeLongerName(runes, pos, len(name)) {
				return VerdictPassed, ""
			}
		}
		return VerdictEliminated, ReasonPartOfLongerName
	}

	switch subsequenceMatch(runes, name, maxCJKCharGap) {
	case subsequenceWithinGap:
		return VerdictPassed, ""
	case subsequenceScattered:
		return VerdictEliminated, ReasonNameCharacterSeparation
	default:
		return VerdictEliminated, ReasonMissingRequiredToken
	}
}

func judgeLatinName(text, subject string) (Verdict, Reason) {
	lowerText := strings.ToLower(text)
	tokens := strings.Fields(strings.ToLower(subject))
	if len(tokens) == 0 {
		return VerdictPassed, ""
	}

	sawSubstringOnly := false
	for _, token := range tokens {
		if !strings.Contains(lowerText, token) {
			return VerdictEliminated, ReasonMissingRequiredToken
		}
		if !containsWholeWord(lowerText, token) {
			sawSubstringOnly = true
		}
	}
	if sawSubstringOnly {
		return VerdictEliminated, ReasonPartOfLongerName
	}
	return VerdictPassed, ""
}

func contiguousOccurrences(text, name []rune) []int {
	if len(name) == 0 || len(text) < len(name) {
		return nil
	}
	var positions []int
	for i := 0; i+len(name) <= len(text); i++ {
		match := true
		for j := range name {
			if text[i+j] != name[j] {
				match = false
				break
			}
		}
		if match {
			positions = append(positions, i)
		}
	}
	return positions
}

// Characters that make an adjacent match read as a different, longer
// personal name. Running Chinese text always flanks a name with Han
// characters, so plain flanking is not enough; the neighbour has to look
// like a name character itself.
const commonSurnameChars = "王李张刘陈杨黄赵吴周徐孙马朱胡郭何高林罗郑梁谢宋唐许韩冯邓曹彭曾萧田董袁潘蒋蔡余杜叶程苏魏吕丁任沈姚卢姜崔钟谭陆汪范金石廖贾夏韦傅方白邹孟熊秦邱江尹薛闫段雷侯龙史陶黎贺顾毛郝龚邵万钱严覃武戴莫孔向汤"

const commonGivenNameChars = "丰华明强伟军平杰峰磊鑫波涛斌宇浩凯鹏飞勇志义兴良海山仁宁贵福生龙元胜学祥才新利清彬富顺信子昌成康星光天达安岩茂进坚彪博诚敬震振壮思群豪邦承乐绍功松善厚庆民友裕河哲超亮谦亨奇固轮翰朗伯宏鸣朋栋维启克伦翔旭泽晨辰士建家致树炎德泰盛雄琛钧冠策腾楠榕航弘"

func looksLikeLongerName(text []rune, pos, length int) bool {
	if pos > 0 && runeInSet(text[pos-1], commonSurnameChars) {
		return true
	}
	if end := pos + length; end < len(text) && runeInSet(text[end], commonGivenNameChars) {
		return true
	}
	return false
}

func runeInSet(r rune, set string) bool {
	return strings.ContainsRune(set, r)
}

type subsequenceResult int

const (
	subsequenceMissing subsequenceResult = iota
	subsequenceWithinGap
	subsequenceScattered
)

// subsequenceMatch looks for the name's characters in order. A match whose
// consecutive characters sit more than maxGap runes apart counts as
// scattered, not as a hit on the subject.
func subsequenceMatch(text, name []rune, maxGap int) subsequenceResult {
	bestWithinGap := matchFrom(text, name, maxGap)
	if bestWithinGap {
		return subsequenceWithinGap
	}
	if matchFrom(text, name, len(text)) {
		return subsequenceScattered
	}
	return subsequenceMissing
}

func matchFrom(text, name []rune, maxGap int) bool {
	for start := 0; start < len(text); start++ {
		if text[start] != name[0] {
			continue
		}
		pos := start
		matched := 1
		for matched < len(name) {
			next := -1
			limit := pos + maxGap + 1
			if limit > len(text) {
				limit = len(text)
			}
			for i := pos + 1; i < limit; i++ {
				if text[i] == name[matched] {
					next = i
					break
				}
			}
			if next < 0 {
				break
			}
			pos = next
			matched++
		}
		if matched == len(name) {
			return true
		}
	}
	return false
}

func containsWholeWord(text, word string) bool {
	index := 0
	for {
		found := strings.Index(text[index:], word)
		if found < 0 {
			return false
		}
		start := index + found
		end := start + len(word)
		startOK := start == 0 || !isWordByte(text[start-1])
		endOK := end >= len(text) || !isWordByte(text[end])
		if startOK && endOK {
			return true
		}
		index = start + 1
		if index >= len(text) {
			return false
		}
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
