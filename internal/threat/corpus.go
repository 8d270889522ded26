package threat

// Category groups attack payloads by technique.
type Category struct {
	Name     string
	Payloads []string
}

// Corpus returns the built-in attack payloads used by SelfTest.
func Corpus() []Category {
	return []Category{
		{"union_based", []string{
			"test' UNION SELECT username,password FROM users--",
			"test' UNION ALL SELECT @@version,database()--",
			"test' UNION SELECT 1,2,3,4,5,6,7,8,9,10--",
			"test' UNION SELECT column_name FROM information_schema.columns--",
		}},
		{"boolean_based_blind", []string{
			"test' AND 1=1--",
			"test' AND 1=2--",
			"test' AND 'a'='a'--",
			"test' AND (SELECT COUNT(*) FROM users)>0--",
			"test' AND LENGTH((SELECT password FROM users WHERE id=1))>5--",
		}},
		{"time_based_blind", []string{
			"test' WAITFOR DELAY '00:00:05'--",
			"test' AND SLEEP(5)--",
			"test' AND pg_sleep(5)--",
			"test' AND BENCHMARK(50000000,MD5('test'))--",
			"test' AND (SELECT COUNT(*) FROM information_schema.columns A, information_schema.columns B) AND 1='1",
		}},
		{"error_based", []string{
			"test' AND (SELECT * FROM (SELECT COUNT(*),CONCAT(version(),FLOOR(RAND(0)*2))x FROM information_schema.tables GROUP BY x)a)--",
			"test' AND EXTRACTVALUE(1,CONCAT(0x7e,(SELECT version()),0x7e))--",
			"test' AND UPDATEXML(1,CONCAT(0x7e,(SELECT version()),0x7e),1)--",
			"test' AND (SELECT * FROM (SELECT COUNT(*),CONCAT((SELECT username FROM users LIMIT 1),FLOOR(RAND(0)*2))x FROM information_schema.tables GROUP BY x)a)--",
		}},
		{"stacked_queries", []string{
			"test'; DROP TABLE users--",
			"test'; INSERT INTO users (email) VALUES ('hacked@test.com')--",
			"test'; UPDATE users SET password='hacked' WHERE id=1--",
			"test'; CREATE TABLE hacked (data VARCHAR(255))--",
		}},
		{"second_order", []string{
			"admin')--",
			"admin') OR '1'='1'--",
			"admin') UNION SELECT username,password FROM users--",
			"admin'; INSERT INTO audit_log (message) VALUES ('Hacked');--",
		}},
		{"quote_variants", []string{
			`admin" or "1"="1`,
			`x") or ("1"="1`,
			"admin' or true--",
			"test%22%20OR%20%221%22%3D%221",
		}},
		{"encoding_bypass", []string{
			"test%27%20OR%201%3D1--",
			"test%27%3B%20DROP%20TABLE%20users--",
			"test%2527%2520OR%25201%253D1--",
			"test&#39; OR 1=1--",
			"test' + CHAR(39) + OR + CHAR(49) + CHAR(61) + CHAR(49)--",
			"test' & chr(39) & OR & chr(49) & chr(61) & chr(49)--",
		}},
	}
}

// Benign returns ordinary CRM inputs that must not be flagged when scanned
// without a context.
func Benign() []string {
	return []string{
		"John Smith",
		"O'Brien-Selectman",
		"john.doe@example.com",
		"Please call me back tomorrow afternoon",
		"Order #1234 shipped",
		"Select the plan that suits you best",
		"It's 5 o'clock somewhere",
		"Rock 'n' roll",
		"https://crm.example.com/api/v1/contacts/?page=2&ordering=-created",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"50% discount for returning customers",
		"Q3 update: pipeline grew",
		`Ask for the "Q4" bundle and 3 seats`,
		`27" monitor, 2 units`,
	}
}

// CategoryResult counts how many payloads of a category were blocked.
type CategoryResult struct {
	Name    string   `json:"name"`
	Total   int      `json:"total"`
	Blocked int      `json:"blocked"`
	Missed  []string `json:"missed,omitempty"`
}

// Passed reports whether every payload was blocked.
func (r CategoryResult) Passed() bool { return r.Blocked == r.Total }

// Report is the outcome of SelfTest.
type Report struct {
	Categories     []CategoryResult `json:"categories"`
	FalsePositives []string         `json:"false_positives,omitempty"`
}

// Passed reports whether every attack was blocked and no benign input was.
func (r Report) Passed() bool {
	if len(r.FalsePositives) > 0 {
		return false
	}
	for _, c := range r.Categories {
		if !c.Passed() {
			return false
		}
	}
	return true
}

// SelfTest runs the built-in corpus through d.
func SelfTest(d *Detector) Report {
	var rep Report
	for _, cat := range Corpus() {
		res := CategoryResult{Name: cat.Name, Total: len(cat.Payloads)}
		for _, p := range cat.Payloads {
			if d.Scan(p, "test", ContextNone) != nil {
				res.Blocked++
			} else {
				res.Missed = append(res.Missed, p)
			}
		}
		rep.Categories = append(rep.Categories, res)
	}
	for _, b := range Benign() {
		if d.Scan(b, "text", ContextNone) != nil {
			rep.FalsePositives = append(rep.FalsePositives, b)
		}
	}
	return rep
}
