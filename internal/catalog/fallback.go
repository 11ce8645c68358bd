package catalog

import "strings"

// Well-known entities served when the backend cannot be reached.
var fallbackNames = map[Kind]map[string]string{
	Structures: {
		"681ca9cc8d27db663dd295bc": "Ministry of Interior - Civil Status",
		"682ca9cc8d28db673dd296bc": "Ministry of Education",
		"683ca9cc8d29db683dd297bc": "Ministry of Higher Education",
		"684ca9cc8d30db693dd298bc": "Ministry of Health",
		"685ca9cc8d31db703dd299bc": "National Health Insurance Fund",
	},
	Sectors: {
		"681ca7d68d27db663dd295bc": "Civil Status and Official Documents",
		"682ca7d68d28db673dd296bc": "Education",
		"683ca7d68d29db683dd297bc": "Higher Education and Scientific Research",
		"684ca7d68d30db693dd298bc": "Social Affairs",
		"685ca7d68d31db703dd299bc": "Transport and Vehicles",
	},
	Services: {
		"681d32598d27db663dd295d1": "Birth Certificate",
		"681d325f8d27db663dd295d2": "Death Certificate",
		"681d32538d27db663dd295d0": "National Identity Card",
	},
}

type keywordName struct {
	keywords []string
	name     string
}

// Heuristics for ids that carry a readable hint (slugs, legacy names).
var fallbackKeywords = map[Kind][]keywordName{
	Structures: {
		{[]string{"interior", "interieur"}, "Ministry of Interior"},
		{[]string{"education"}, "Ministry of Education"},
		{[]string{"health", "sante"}, "Ministry of Health"},
		{[]string{"transport"}, "Ministry of Transport"},
	},
	Sectors: {
		{[]string{"higher"}, "Higher Education and Scientific Research"},
		{[]string{"education"}, "Education"},
		{[]string{"civil", "status"}, "Civil Status and Official Documents"},
		{[]string{"social"}, "Social Affairs"},
		{[]string{"transport"}, "Transport and Vehicles"},
		{[]string{"health", "sante"}, "Health"},
		{[]string{"financ", "finan"}, "Finance"},
		{[]string{"justi"}, "Justice"},
		{[]string{"defen"}, "Defense"},
	},
	Services: {
		{[]string{"birth", "naissance"}, "Birth Certificate"},
		{[]string{"death", "deces"}, "Death Certificate"},
		{[]string{"identity", "cin"}, "National Identity Card"},
	},
}

// Fallback returns a display name for id without any I/O. It never returns "".
func Fallback(kind Kind, id string) string {
	table := fallbackNames[kind]
	for _, cand := range candidateIDs(id) {
		if name, ok := table[cand]; ok {
			return name
		}
	}
	lower := strings.ToLower(id)
	for _, kw := range fallbackKeywords[kind] {
		for _, k := range kw.keywords {
			if strings.Contains(lower, k) {
				return kw.name
			}
		}
	}
	return "Unknown " + kind.Label()
}
