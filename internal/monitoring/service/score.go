package service

import (
	"math"
	"reflect"

	"github.com/sentravision/sentra-cloud/internal/monitoring/domain"
)

// Score folds weighted rule results into a 0-100 risk score. Each rule
// contributes in [0,1], the weighted sum is normalized by total weight and
// scaled by the reporter's confidence. Rounding is half away from zero.
func Score(rules []domain.ScenarioRule, signals map[string]interface{}, confidence float64) int {
	var base, maxWeight float64
	for _, rule := range rules {
		maxWeight += float64(rule.Weight)
		base += evaluateRule(rule, signals) * float64(rule.Weight)
	}
	if maxWeight == 0 {
		return 0
	}

	normalized := base / maxWeight * 100
	final := int(math.Round(normalized * confidence))
	if final > 100 {
		return 100
	}
	if final < 0 {
		return 0
	}
	return final
}

// RiskLevel buckets a score: 85 and up critical, 70 and up high, the rest
// medium.
func RiskLevel(score int) string {
	switch {
	case score >= 85:
		return domain.RiskCritical
	case score >= 70:
		return domain.RiskHigh
	default:
		return domain.RiskMedium
	}
}

// evaluateRule scores one rule against the reported signals. A signal the
// edge did not report scores zero.
func evaluateRule(rule domain.ScenarioRule, signals map[string]interface{}) float64 {
	signal, ok := signals[rule.RuleType].(map[string]interface{})
	if !ok {
		// Patterns compare whole maps, everything else reads typed fields.
		if rule.RuleType == domain.RulePattern {
			return 0
		}
		if _, present := signals[rule.RuleType]; !present {
			return 0
		}
	}

	value := map[string]interface{}(rule.RuleValue)

	switch rule.RuleType {
	case domain.RuleDuration:
		minSeconds := floatField(value, "min_seconds")
		actual := floatField(signal, "seconds")
		if minSeconds <= 0 || actual >= minSeconds {
			return 1
		}
		return actual / minSeconds

	case domain.RuleLocation:
		required, _ := value["zone"].(string)
		actual, _ := signal["zone"].(string)
		if required != "" && required == actual {
			return 1
		}
		return 0

	case domain.RulePattern:
		actual, _ := signals[rule.RuleType].(map[string]interface{})
		if len(value) == 0 {
			return 0
		}
		matches := 0
		for k, want := range value {
			if got, ok := actual[k]; ok && looseEqual(want, got) {
				matches++
			}
		}
		return float64(matches) / float64(len(value))

	case domain.RuleDetection:
		required := boolField(value, "required")
		detected := boolField(signal, "detected")
		if required == detected {
			return 1
		}
		return 0

	case domain.RuleProximity:
		maxDistance := floatField(value, "max_distance_meters")
		actual := 999.0
		if _, ok := signal["distance_meters"]; ok {
			actual = floatField(signal, "distance_meters")
		}
		if actual <= maxDistance {
			return 1
		}
		if maxDistance <= 0 {
			return 0
		}
		return math.Max(0, 1-(actual-maxDistance)/maxDistance)

	case domain.RuleCount:
		minCount := floatField(value, "min_workers")
		actual := floatField(signal, "count")
		if minCount <= 0 || actual >= minCount {
			return 1
		}
		return actual / minCount

	case domain.RuleActivity:
		required, _ := value["activity_level"].(string)
		actual, _ := signal["activity_level"].(string)
		if required != "" && required == actual {
			return 1
		}
		return 0

	case domain.RuleAuthorization:
		required := boolField(value, "required")
		authorized := boolField(signal, "authorized")
		if !required || authorized {
			return 1
		}
		return 0
	}

	return 0
}

func floatField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func boolField(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// looseEqual compares scalars across JSON decodings, where 5 and 5.0 are the
// same value.
func looseEqual(a, b interface{}) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
