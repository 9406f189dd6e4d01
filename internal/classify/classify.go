package classify

import (
	"strings"

	"github.com/ycwei/tender-watch/internal/models"
)

// RuleSet holds the ordered keyword tiers applied to a tender title.
// Hard excludes outrank everything; must-includes admit on their own;
// secondary includes admit only when no soft exclude is present.
type RuleSet struct {
	HardExclude      []string
	MustInclude      []string
	SecondaryInclude []string
	SoftExclude      []string
}

// DefaultRuleSet returns the curated keyword tiers for software tenders.
// Single-tier matching on generic words like 系統 or 平台 pulled in too many
// facility and equipment cases; the tiers trade recall for precision.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		HardExclude: []string{
			// quantity markers for physical goods
			"一批", "一式", "一台", "一套",
			// hardware / physical platforms
			"硬體", "電腦", "監控", "機房", "土木", "網路設備", "交換器",
			"機電", "空調", "電梯", "消防系統", "水電", "高低壓", "變壓器",
			"發電機", "冷氣", "冰水主機", "熱泵", "附加儲存", "NAS",
			"消防", "電力", "機械", "儀器", "儀控", "廣播系統",
			// maintenance of physical assets
			"設備維護", "設備保養", "清潔維護", "環境維護", "景觀維護",
			"綠美化", "管線維護", "道路維護", "設施維護",
			"污水", "抽水", "給水", "排水", "灌溉", "噴水",
			"道路", "路面", "交通設施", "花木", "綠地", "垃圾", "清運",
			"景觀設施", "石綿", "回饋金",
			// medical / lab equipment
			"手術", "顯微鏡", "醫療設備",
			// licensing-only purchases
			"授權",
			"保全",
		},
		MustInclude: []string{
			"軟體", "APP", "網站", "應用程式", "程式",
		},
		SecondaryInclude: []string{
			"系統", "資訊", "開發", "建置", "平台",
		},
		SoftExclude: []string{
			"工程", "修繕", "保養", "汰換", "整修", "更換", "改善",
		},
	}
}

// Result is the classifier's verdict for one title.
type Result struct {
	Admit   bool
	Rule    models.MatchRule
	Keyword string // the token that decided admission
}

// Classifier applies a RuleSet to tender titles. Construct once with the
// configured rules; the value is immutable afterwards.
type Classifier struct {
	rules RuleSet
}

func New(rules RuleSet) *Classifier {
	return &Classifier{rules: rules}
}

// Classify decides whether a title is a software-tender candidate.
func (c *Classifier) Classify(title string) Result {
	if containsAny(title, c.rules.HardExclude) != "" {
		return Result{}
	}

	if kw := containsAny(title, c.rules.MustInclude); kw != "" {
		return Result{Admit: true, Rule: models.RuleMustInclude, Keyword: kw}
	}

	if kw := containsAny(title, c.rules.SecondaryInclude); kw != "" {
		if containsAny(title, c.rules.SoftExclude) == "" {
			return Result{Admit: true, Rule: models.RuleSecondaryInclude, Keyword: kw}
		}
	}

	return Result{}
}

func containsAny(s string, tokens []string) string {
	for _, tok := range tokens {
		if tok != "" && strings.Contains(s, tok) {
			return tok
		}
	}
	return ""
}
