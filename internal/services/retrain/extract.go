package retrain

import (
	"regexp"
	"strconv"
)

type strategy struct {
	name string
	re   *regexp.Regexp
}

// Strategies are tried in order; within a strategy the last match wins so
// per-epoch logs report the final figure. Group 1 is the number and the
// optional group 2 a percent sign.
var strategies = []strategy{
	{"json_accuracy", regexp.MustCompile(`"(?:val_)?accuracy"\s*:\s*([0-9]*\.?[0-9]+)()`)},
	{"labelled_accuracy", regexp.MustCompile(`(?i)\b(?:final |val(?:idation)? |test )?accuracy\s*[:=]\s*([0-9]*\.?[0-9]+)\s*(%)?`)},
	{"percent_accuracy", regexp.MustCompile(`(?i)([0-9]*\.?[0-9]+)\s*(%)\s*accura`)},
	{"acc_short", regexp.MustCompile(`(?i)\b(?:val_)?acc\s*[:=]\s*([0-9]*\.?[0-9]+)\s*(%)?`)},
	{"score", regexp.MustCompile(`(?i)\bscore\s*[:=]\s*([0-9]*\.?[0-9]+)\s*(%)?`)},
}

// ExtractAccuracy finds the model accuracy in trainer output and normalizes
// it to [0,1]. Values above 1 are read as percentages.
func ExtractAccuracy(output string) (acc float64, strategyName string, ok bool) {
	for _, s := range strategies {
		matches := s.re.FindAllStringSubmatch(output, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			v, err := strconv.ParseFloat(matches[i][1], 64)
			if err != nil {
				continue
			}
			if matches[i][2] == "%" || v > 1 {
				v /= 100
			}
			if v < 0 || v > 1 {
				continue
			}
			return v, s.name, true
		}
	}
	return 0, "", false
}
