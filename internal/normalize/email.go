package normalize

import (
	"regexp"
	"strings"
)

// spokenSymbols maps spoken email tokens to the symbol the caller meant
var spokenSymbols = map[string]string{
	"at":         "@",
	"dot":        ".",
	"period":     ".",
	"underscore": "_",
	"dash":       "-",
	"hyphen":     "-",
	"minus":      "-",
	"plus":       "+",
}

// domainTypos repairs frequently mis-transcribed mail domains
var domainTypos = map[string]string{
	"gamil.com":   "gmail.com",
	"gmial.com":   "gmail.com",
	"gmal.com":    "gmail.com",
	"gnail.com":   "gmail.com",
	"hotmial.com": "hotmail.com",
	"hotmal.com":  "hotmail.com",
	"yaho.com":    "yahoo.com",
	"yahooo.com":  "yahoo.com",
	"outlok.com":  "outlook.com",
}

// knownTLDs are suffixes we re-dot when speech recognition glues them onto the domain
var knownTLDs = []string{"com", "net", "org", "edu", "gov", "io", "co"}

var (
	spokenTokenRe = regexp.MustCompile(`(?i)\b(at|dot|period|underscore|dash|hyphen|minus|plus)\b`)
	symbolSpaceRe = regexp.MustCompile(`\s*([@._+-])\s*`)
	candidateRe   = regexp.MustCompile(`[a-z0-9][a-z0-9._%+-]*@[a-z0-9][a-z0-9.-]*`)
	emailShapeRe  = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}$`)
)

// Email converts a voice-transcribed utterance like "john dot smith at gmail
// dot com" into a canonical address. The second return value is false when no
// valid address could be recovered.
func Email(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimRight(s, ".,;:!? ")
	if s == "" {
		return "", false
	}

	// Spoken tokens become symbols, then whitespace around symbols is dropped
	// so "john . smith @ gmail . com" reads as one address.
	s = spokenTokenRe.ReplaceAllStringFunc(s, func(m string) string {
		return spokenSymbols[strings.ToLower(m)]
	})
	s = symbolSpaceRe.ReplaceAllString(s, "$1")

	// The utterance may embed the address in prose; take the most
	// email-shaped substring.
	candidate := candidateRe.FindString(s)
	if candidate == "" {
		return "", false
	}
	candidate = strings.TrimRight(candidate, "._-")

	local, domain, ok := strings.Cut(candidate, "@")
	if !ok || local == "" || domain == "" {
		return "", false
	}

	local = collapseSpelledLocal(local)
	domain = repairDomain(domain)

	addr := local + "@" + domain
	if !emailShapeRe.MatchString(addr) {
		return "", false
	}
	return addr, true
}

// collapseSpelledLocal detects letter-by-letter spellings such as "k-e-n-a-n"
// and joins them. The heuristic requires four or more single-character segments
// so short genuine locals like "a.b" survive untouched.
func collapseSpelledLocal(local string) string {
	segments := strings.FieldsFunc(local, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
	if len(segments) < 4 {
		return local
	}
	for _, seg := range segments {
		if len(seg) != 1 {
			return local
		}
	}
	return strings.Join(segments, "")
}

// repairDomain fixes a missing TLD dot ("gmailcom" -> "gmail.com") and known typos
func repairDomain(domain string) string {
	if !strings.Contains(domain, ".") {
		for _, tld := range knownTLDs {
			if strings.HasSuffix(domain, tld) && len(domain) > len(tld) {
				domain = domain[:len(domain)-len(tld)] + "." + tld
				break
			}
		}
	}
	if fixed, ok := domainTypos[domain]; ok {
		return fixed
	}
	return domain
}

// LooksLikeEmail reports whether the raw text plausibly contains an email
// address, even one we could not normalize. Used to keep the caller's wording
// visible instead of silently discarding it.
func LooksLikeEmail(raw string) bool {
	s := strings.ToLower(raw)
	if strings.Contains(s, "@") {
		return true
	}
	return spokenTokenRe.MatchString(s) && strings.Contains(s, " at ")
}
