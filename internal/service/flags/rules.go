package flags

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"

	"github.com/splax/rollout/internal/domain"
)

// Bucket maps an arbitrary string onto [0,100) deterministically. The same
// function backs the flag-level percentage gate and percentage rules, so a
// given user always lands on the same side of any threshold, on any engine
// instance, without shared state.
func Bucket(userID string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return float64(h.Sum32() % 100)
}

// evaluateRule applies one targeting rule. An unknown rule type fails
// closed.
func evaluateRule(rule domain.FlagRule, evalCtx domain.EvalContext) bool {
	switch rule.Type {
	case domain.RuleUser:
		return matchValue(rule.Value, evalCtx.UserID)
	case domain.RuleGroup:
		return matchValue(rule.Value, evalCtx.UserGroup)
	case domain.RulePercentage:
		threshold, ok := toFloat(rule.Value)
		if !ok {
			return false
		}
		return Bucket(evalCtx.UserID) < threshold
	case domain.RuleCustom:
		return evaluateCustom(rule, evalCtx)
	}
	return false
}

// matchValue accepts an exact match or membership in a list value.
func matchValue(value any, target string) bool {
	switch v := value.(type) {
	case string:
		return v == target
	case []string:
		return containsString(v, target)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == target {
				return true
			}
		}
	}
	return false
}

// evaluateCustom looks up a context attribute and compares it against the
// rule value. The condition is "<attribute>" or "<attribute> <operator>";
// the operator defaults to equality.
func evaluateCustom(rule domain.FlagRule, evalCtx domain.EvalContext) bool {
	fields := strings.Fields(rule.Condition)
	if len(fields) == 0 {
		return false
	}
	attr, ok := evalCtx.Attributes[fields[0]]
	if !ok {
		return false
	}
	op := "eq"
	if len(fields) > 1 {
		op = strings.ToLower(fields[1])
	}

	switch op {
	case "gt", "gte", "lt", "lte":
		left, lok := toFloat(attr)
		right, rok := toFloat(rule.Value)
		if !lok || !rok {
			return false
		}
		switch op {
		case "gt":
			return left > right
		case "gte":
			return left >= right
		case "lt":
			return left < right
		default:
			return left <= right
		}
	case "contains":
		return contains(attr, rule.Value)
	case "regex":
		pattern, ok := rule.Value.(string)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(pattern, toString(attr))
		return err == nil && matched
	default:
		return toString(attr) == toString(rule.Value)
	}
}

func contains(attr, value any) bool {
	switch v := attr.(type) {
	case string:
		return strings.Contains(v, toString(value))
	case []string:
		return containsString(v, toString(value))
	case []any:
		target := toString(value)
		for _, item := range v {
			if toString(item) == target {
				return true
			}
		}
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		return parsed, err == nil
	}
	return 0, false
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
