// Package audit counts story entries that hold no usable article: block pages
// served instead of content, and failure sentinels.
package audit

import (
	"strings"

	"github.com/JakeFAU/roundup-crawler/internal/roundup"
)

// DefaultPrefixes are the entry openings that mark an unusable article.
var DefaultPrefixes = []string{
	"This website is using a security service to protect",
	"To continue, please click the box",
	strings.TrimSpace(roundup.FailurePrefix),
	"Sorry the page",
}

// Counts pairs flagged entries with all entries seen.
type Counts struct {
	Flagged int `json:"flagged"`
	Total   int `json:"total"`
}

// Ratio returns Flagged/Total, or 0 for no entries.
func (c Counts) Ratio() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Flagged) / float64(c.Total)
}

func (c *Counts) add(flagged bool) {
	c.Total++
	if flagged {
		c.Flagged++
	}
}

// Report is the result of Scan.
type Report struct {
	Records  int                     `json:"records"`
	ByBias   map[roundup.Bias]Counts `json:"by_bias"`
	ByPrefix map[string]int          `json:"by_prefix"`
	Total    Counts                  `json:"total"`
}

// Scan tallies entries in the left, center and right categories of records.
// Nil prefixes means DefaultPrefixes.
func Scan(records []roundup.Record, prefixes []string) Report {
	if prefixes == nil {
		prefixes = DefaultPrefixes
	}
	rep := Report{
		Records:  len(records),
		ByBias:   make(map[roundup.Bias]Counts, len(roundup.Biases)),
		ByPrefix: make(map[string]int, len(prefixes)),
	}
	for _, bias := range roundup.Biases {
		rep.ByBias[bias] = Counts{}
	}
	for _, rec := range records {
		for _, bias := range roundup.Biases {
			counts := rep.ByBias[bias]
			for _, entry := range rec.Story[string(bias)] {
				prefix, flagged := match(entry, prefixes)
				if flagged {
					rep.ByPrefix[prefix]++
				}
				counts.add(flagged)
				rep.Total.add(flagged)
			}
			rep.ByBias[bias] = counts
		}
	}
	return rep
}

func match(entry string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(entry, p) {
			return p, true
		}
	}
	return "", false
}
