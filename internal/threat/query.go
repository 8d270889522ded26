package threat

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Risk grades a reviewed query.
type Risk string

const (
	RiskLow  Risk = "low"
	RiskHigh Risk = "high"
)

// Threat types reported by CheckQuery.
const (
	ThreatSQLInjection       = "sql_injection"
	ThreatParameterInjection = "parameter_injection"
)

// QueryReport is the outcome of reviewing SQL text written by application
// code, as opposed to a request value.
type QueryReport struct {
	Safe            bool     `json:"is_safe"`
	Risk            Risk     `json:"risk_level,omitempty"`
	Threats         []string `json:"threat_types,omitempty"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	UsedFields      []string `json:"used_fields,omitempty"`
}

func (r *QueryReport) unsafe(issue, recommendation string) {
	r.Safe = false
	if issue != "" {
		r.Issues = append(r.Issues, issue)
	}
	if recommendation != "" {
		r.Recommendations = append(r.Recommendations, recommendation)
	}
}

// practice is a query-building habit worth a recommendation but not a block.
type practice struct {
	re   *regexp.Regexp
	hint string
}

var practices = []practice{
	{regexp.MustCompile(`%s`), "Use proper parameter markers"},
	{regexp.MustCompile(`(?i)\bformat\s*\(`), "Avoid string formatting in queries"},
	{regexp.MustCompile(`\+\s*["']|["']\s*\+`), "Avoid string concatenation in queries"},
	{regexp.MustCompile(`\|\|\s*["']|["']\s*\|\|`), "Avoid string concatenation in queries"},
}

// placeholder matches %s, ?, $1 and :name parameter markers.
var placeholder = regexp.MustCompile(`%s|\?|\$\d+|:[A-Za-z_]\w*`)

// fieldRef finds identifiers used on the left of a comparison.
var fieldRef = regexp.MustCompile(`(?i)\b([a-z_][a-z0-9_]*)\s*(?:!=|<>|<=|>=|=|<|>|\s(?:not\s+)?(?:like|in)\b)`)

// inspect classifies without touching the request counters.
func (d *Detector) inspect(value, field string) *Finding {
	return d.classify(Decode(value), field, ContextNone)
}

// CheckQuery reviews a query and its bound parameters. An injection shape in
// the query text or in any string parameter makes it unsafe with high risk;
// risky building habits only add recommendations.
func (d *Detector) CheckQuery(query string, params []string) QueryReport {
	rep := QueryReport{Safe: true, Risk: RiskLow}
	if d.inspect(query, "query") != nil {
		rep.unsafe("", "Use parameterized queries")
		rep.Threats = append(rep.Threats, ThreatSQLInjection)
		rep.Risk = RiskHigh
	}
	seen := map[string]bool{}
	for _, p := range practices {
		if p.re.MatchString(query) && !seen[p.hint] {
			seen[p.hint] = true
			rep.Recommendations = append(rep.Recommendations, p.hint)
		}
	}
	for i, v := range params {
		if d.inspect(v, fmt.Sprintf("parameter_%d", i)) != nil {
			rep.unsafe(fmt.Sprintf("Parameter %d contains suspicious content", i), "")
			if !slices.Contains(rep.Threats, ThreatParameterInjection) {
				rep.Threats = append(rep.Threats, ThreatParameterInjection)
			}
			rep.Risk = RiskHigh
		}
	}
	return rep
}

// CheckParameterized verifies that query carries parameter markers and that
// no bound value looks like an injection.
func (d *Detector) CheckParameterized(query string, params []string) QueryReport {
	rep := QueryReport{Safe: true}
	if !placeholder.MatchString(query) {
		rep.unsafe("Query does not use parameterization", "Use parameterized queries to prevent SQL injection")
	}
	for i, v := range params {
		if d.inspect(v, fmt.Sprintf("param_%d", i)) != nil {
			rep.unsafe(fmt.Sprintf("Parameter %d contains suspicious content", i),
				fmt.Sprintf("Validate parameter %d before usage", i))
		}
	}
	return rep
}

// CheckDynamic verifies that a query assembled at runtime only compares the
// allowed fields (case-insensitive) and carries no injection shape.
func (d *Detector) CheckDynamic(query string, allowed []string) QueryReport {
	rep := QueryReport{Safe: true}
	allow := make(map[string]bool, len(allowed))
	for _, f := range allowed {
		allow[strings.ToLower(f)] = true
	}
	for _, m := range fieldRef.FindAllStringSubmatch(query, -1) {
		field := m[1]
		if slices.Contains(rep.UsedFields, field) {
			continue
		}
		rep.UsedFields = append(rep.UsedFields, field)
		if !allow[strings.ToLower(field)] {
			rep.unsafe(fmt.Sprintf("Field %q is not in allowed list", field),
				fmt.Sprintf("Add %q to allowed fields or remove from query", field))
		}
	}
	if d.inspect(query, "query") != nil {
		rep.unsafe("SQL injection patterns detected in dynamic query", "Review and sanitize dynamic query components")
	}
	return rep
}
