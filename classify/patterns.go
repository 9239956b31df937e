package classify

import (
	"regexp"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

// taskRule binds a task type to the patterns that indicate it. The catalog
// is ordered; the first matching rule wins.
type taskRule struct {
	taskType core.TaskType
	patterns []*regexp.Regexp
}

var taskCatalog = []taskRule{
	{core.TaskMathReasoning, compileAll(
		`(?i)\bsolve\b`,
		`(?i)\b(equation|integral|derivative|theorem|proof)\b`,
		`(?i)\bcalculate\b`,
		`\d+\s*[x-z]?\s*[+\-*/^=]\s*\d+`,
		`(?i)\bwhat is [x-z]\b`,
	)},
	{core.TaskCodeGeneration, compileAll(
		`(?i)\b(write|implement|debug|refactor)\b.*\b(code|function|class|script|program)\b`,
		`(?i)\b(python|javascript|golang|typescript|rust|java|sql)\b`,
		`(?i)\bunit tests?\b`,
		"```",
	)},
	{core.TaskCreativeWriting, compileAll(
		`(?i)\bwrite\b.*\b(story|poem|essay|novel|song|screenplay)\b`,
		`(?i)\b(fiction|narrative|creative writing)\b`,
		`(?i)\bcompose\b`,
	)},
	{core.TaskDataAnalysis, compileAll(
		`(?i)\banalyz\w+\b.*\b(data|dataset|trends?|statistics|metrics)\b`,
		`(?i)\b(correlation|regression|distribution)\b`,
		`(?i)\bchart|graph|plot\b`,
	)},
	{core.TaskSummarization, compileAll(
		`(?i)\bsummariz\w+\b`,
		`(?i)\btl;?dr\b`,
		`(?i)\b(condense|key points|main ideas)\b`,
	)},
	{core.TaskTranslation, compileAll(
		`(?i)\btranslate\b`,
		`(?i)\bfrom \w+ (in)?to \w+\b.*\blanguage\b`,
	)},
	{core.TaskClassification, compileAll(
		`(?i)\bclassify\b`,
		`(?i)\bcategoriz\w+\b`,
		`(?i)\bwhich (category|label|class)\b`,
	)},
}

// domainRule binds a domain to its indicator patterns, first match wins.
type domainRule struct {
	domain   core.Domain
	patterns []*regexp.Regexp
}

var domainCatalog = []domainRule{
	{core.DomainAcademic, compileAll(
		`(?i)\b(research|thesis|citation|peer.review|academic|scholar)\b`,
		`(?i)\b(hypothesis|literature review)\b`,
	)},
	{core.DomainTechnical, compileAll(
		`(?i)\b(api|database|server|algorithm|deploy|kubernetes|software)\b`,
		`(?i)\b(code|function|debug|engineering)\b`,
	)},
	{core.DomainBusiness, compileAll(
		`(?i)\b(revenue|market|customer|strategy|stakeholder|roi|quarterly)\b`,
		`(?i)\b(business plan|sales)\b`,
	)},
	{core.DomainCreative, compileAll(
		`(?i)\b(story|poem|art|design|fiction|character|imagine)\b`,
	)},
}

// Complexity adjustment patterns.
var (
	highComplexityPatterns = compileAll(
		`(?i)\banalyz\w+\b.*\bsynthesiz\w+\b`,
		`(?i)\bcompare\b.*\bcontrast\b`,
		`(?i)\bcomprehensive\b`,
		`(?i)\bmulti.?(step|factor|dimensional)\b`,
		`(?i)\btrade.?offs?\b`,
	)
	lowComplexityPatterns = compileAll(
		`(?i)^\s*(what|who|when|where) (is|are|was|were)\b`,
		`(?i)\b(simple|simply|briefly|one word|yes or no)\b`,
		`(?i)\bdefine\b`,
	)
	stepMarkerPattern = regexp.MustCompile(`(?i)\b(first|then|finally|next|step \d|step.by.step)\b`)
	abstractPattern   = regexp.MustCompile(`(?i)\b(concept|theory|principle|philosophy|abstract)\b`)
)

// Safety risk patterns. Each match adds 0.3, capped at 1.0. The full
// production pattern list lives with the safety sanitizer; this compact set
// only feeds the risk score.
var riskPatterns = compileAll(
	`(?i)\b(hack|exploit|malware|ransomware)\b`,
	`(?i)\b(weapon|bomb|explosive)\b`,
	`(?i)\b(steal|launder|counterfeit)\b`,
	`(?i)\bbypass\b.*\b(security|filter|authentication)\b`,
	`(?i)ignore (all )?previous instructions`,
)

// Retrieval cue patterns.
var retrievalCuePatterns = compileAll(
	`(?i)\baccording to\b`,
	`(?i)\bbased on (the|this) (document|article|text|context)\b`,
	`(?i)\b(cite|sources?|references?)\b`,
	`(?i)\b(latest|current|recent) (news|data|research|events)\b`,
	`(?i)\blook up\b`,
)

// CognitiveProfile tags a prompt's dominant reasoning demand.
type CognitiveProfile string

const (
	ProfileFullSpectrum          CognitiveProfile = "full-spectrum-cognitive"
	ProfileAnalyticalSynthetic   CognitiveProfile = "analytical-synthetic"
	ProfileCreativeAbstract      CognitiveProfile = "creative-abstract"
	ProfileCriticalAnalytical    CognitiveProfile = "critical-analytical"
	ProfileGenerativeCreative    CognitiveProfile = "generative-creative"
	ProfileAnalyticalExploratory CognitiveProfile = "analytical-exploratory"
	ProfileTaskFocused           CognitiveProfile = "task-focused"
)

// profileWeights feed the complexity score; averaged into the running value.
var profileWeights = map[CognitiveProfile]float64{
	ProfileFullSpectrum:          0.9,
	ProfileAnalyticalSynthetic:   0.8,
	ProfileCreativeAbstract:      0.75,
	ProfileCriticalAnalytical:    0.7,
	ProfileGenerativeCreative:    0.65,
	ProfileAnalyticalExploratory: 0.6,
	ProfileTaskFocused:           0.5,
}

var (
	creativeCuePattern   = regexp.MustCompile(`(?i)\b(design|create|develop|build|invent|imagine)\b`)
	analyticalCuePattern = regexp.MustCompile(`(?i)\b(analyz\w+|synthesiz\w+|evaluat\w+|trade.?offs?)\b`)
	synthesisCuePattern  = regexp.MustCompile(`(?i)\b(synthesiz\w+|integrat\w+|combine|unify)\b`)
	abstractCuePattern   = regexp.MustCompile(`(?i)\b(abstract|novel|original|conceptual)\b`)
	criticalCuePattern   = regexp.MustCompile(`(?i)\b(critique|assess|judge|compare|evaluate)\b`)
	generativeCuePattern = regexp.MustCompile(`(?i)\b(write|story|poem|generate|compose)\b`)
	exploreCuePattern    = regexp.MustCompile(`(?i)\b(explore|investigate|research|examine)\b`)
)

// detectProfile assigns the cognitive profile, most demanding first.
func detectProfile(prompt string) CognitiveProfile {
	creative := creativeCuePattern.MatchString(prompt)
	analytical := analyticalCuePattern.MatchString(prompt)
	switch {
	case creative && analytical:
		return ProfileFullSpectrum
	case synthesisCuePattern.MatchString(prompt):
		return ProfileAnalyticalSynthetic
	case creative && abstractCuePattern.MatchString(prompt):
		return ProfileCreativeAbstract
	case criticalCuePattern.MatchString(prompt):
		return ProfileCriticalAnalytical
	case generativeCuePattern.MatchString(prompt):
		return ProfileGenerativeCreative
	case exploreCuePattern.MatchString(prompt):
		return ProfileAnalyticalExploratory
	default:
		return ProfileTaskFocused
	}
}

// profileTechniques is the table-driven base suggestion per profile.
var profileTechniques = map[CognitiveProfile][]core.TechniqueID{
	ProfileFullSpectrum:          {core.TechniqueTreeOfThought, core.TechniqueChainOfThought, core.TechniqueSelfConsistency},
	ProfileAnalyticalSynthetic:   {core.TechniqueChainOfThought, core.TechniqueTreeOfThought},
	ProfileCreativeAbstract:      {core.TechniqueUniversalSelfPrompt, core.TechniqueTreeOfThought},
	ProfileCriticalAnalytical:    {core.TechniqueChainOfThought, core.TechniqueAutoDiCoT},
	ProfileGenerativeCreative:    {core.TechniqueUniversalSelfPrompt, core.TechniqueFewShotCoT},
	ProfileAnalyticalExploratory: {core.TechniqueReAct, core.TechniqueIRCoT},
	ProfileTaskFocused:           {core.TechniqueChainOfThought},
}

// taskTechniques tops up the profile suggestion per task type.
var taskTechniques = map[core.TaskType][]core.TechniqueID{
	core.TaskMathReasoning:   {core.TechniqueFewShotCoT, core.TechniqueSelfConsistency},
	core.TaskCodeGeneration:  {core.TechniqueReAct, core.TechniqueChainOfThought},
	core.TaskCreativeWriting: {core.TechniqueTreeOfThought, core.TechniqueUniversalSelfPrompt},
	core.TaskDataAnalysis:    {core.TechniqueIRCoT, core.TechniqueChainOfThought},
	core.TaskSummarization:   {core.TechniqueDSPyAPE, core.TechniqueChainOfThought},
	core.TaskTranslation:     {core.TechniqueFewShotCoT},
	core.TaskClassification:  {core.TechniqueFewShotCoT, core.TechniqueAutoDiCoT},
	core.TaskGeneralQA:       {core.TechniqueChainOfThought},
	core.TaskGeneral:         {core.TechniqueChainOfThought},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		out[i] = regexp.MustCompile(expr)
	}
	return out
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func countMatches(patterns []*regexp.Regexp, s string) int {
	n := 0
	for _, p := range patterns {
		if p.MatchString(s) {
			n++
		}
	}
	return n
}
