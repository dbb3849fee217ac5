package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Query templates per language mode. The subject name (or variant) replaces
// the verb. CJK queries skip quoting because CJK engines tokenize differently.
var (
	personQueriesZH = []string{
		"%s",
		"%s 诈骗",
		"%s 调查",
		"%s 判决",
		"%s 违规 处罚",
		"%s 洗钱",
		"%s 逮捕 起诉",
		"%s 负面",
	}
	personQueriesEN = []string{
		`"%s"`,
		`"%s" fraud`,
		`"%s" investigation`,
		`"%s" lawsuit OR litigation`,
		`"%s" sanctions OR fine`,
		`"%s" money laundering`,
		`"%s" arrested OR indicted`,
		`"%s" scandal`,
	}

	companyQueriesZH = []string{
		"%s 处罚",
		"%s 诉讼",
		"%s 违规",
	}
	companyQueriesEN = []string{
		`"%s" penalty OR enforcement`,
		`"%s" lawsuit`,
		`"%s" violation`,
	}
)

// Options tunes the orchestrator. Zero values fall back to the defaults
// below, so a partially filled struct is fine.
type Options struct {
	PageSize int
	MaxPages int

	ClusterBatchSize    int
	CategorizeBatchSize int
	DedupeBatchSize     int
	DedupeMinInput      int
	MaxPerCluster       int

	// ExpandCompanies turns on the optional pass that screens companies
	// detected in the subject's search results.
	ExpandCompanies bool
	MaxCompanies    int

	HeartbeatInterval time.Duration
}

const (
	defaultPageSize          = 10
	defaultMaxPages          = 3
	defaultMaxCompanies      = 3
	defaultHeartbeatInterval = time.Second
)

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.MaxCompanies <= 0 {
		o.MaxCompanies = defaultMaxCompanies
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	return o
}

// BuildQueries expands every name variant through the person templates for
// the given language mode, preserving template order within each variant.
func BuildQueries(variants []string, languageMode string) []string {
	templates := personQueriesEN
	if languageMode == "zh" {
		templates = personQueriesZH
	}
	return expandTemplates(variants, templates)
}

// BuildCompanyQueries expands one detected company through the smaller
// company template set.
func BuildCompanyQueries(company, languageMode string) []string {
	templates := companyQueriesEN
	if languageMode == "zh" {
		templates = companyQueriesZH
	}
	return expandTemplates([]string{company}, templates)
}

func expandTemplates(names, templates []string) []string {
	queries := make([]string, 0, len(names)*len(templates))
	seen := make(map[string]struct{}, len(names)*len(templates))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		for _, tpl := range templates {
			q := fmt.Sprintf(tpl, name)
			if _, dup := seen[q]; dup {
				continue
			}
			seen[q] = struct{}{}
			queries = append(queries, q)
		}
	}
	return queries
}
