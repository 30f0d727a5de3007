// Package conditional evaluates step conditions against an instance's variable bag.
package conditional

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

// Evaluate folds conditions left to right. The result starts as the first condition;
// each following condition combines with the accumulated result through its own
// logical operator (AND unless it says OR). An empty list is true.
//
// Mixed AND/OR lists have no grouping: a AND b OR c is (a AND b) OR c.
func Evaluate(conditions []*models.WorkflowCondition, variables map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}

	result := EvaluateOne(conditions[0], variables)

	for _, condition := range conditions[1:] {
		if condition.LogicalOperator == models.LogicalOr {
			if result {
				continue
			}

			result = EvaluateOne(condition, variables)

			continue
		}

		if !result {
			continue
		}

		result = EvaluateOne(condition, variables)
	}

	return result
}

// EvaluateOne evaluates a single condition. Unknown operators evaluate to false.
func EvaluateOne(condition *models.WorkflowCondition, variables map[string]any) bool {
	if condition == nil {
		return true
	}

	fieldValue, present := variables[condition.Field]

	switch condition.Operator {
	case models.OperatorEquals:
		return equal(fieldValue, condition.Value)
	case models.OperatorNotEquals:
		return !equal(fieldValue, condition.Value)
	case models.OperatorGreaterThan:
		cmp, ok := compare(fieldValue, condition.Value)
		return ok && cmp > 0
	case models.OperatorLessThan:
		cmp, ok := compare(fieldValue, condition.Value)
		return ok && cmp < 0
	case models.OperatorContains:
		if !present || fieldValue == nil {
			return false
		}

		return strings.Contains(toText(fieldValue), toText(condition.Value))
	case models.OperatorIn:
		list, ok := toList(condition.Value)
		return ok && contains(list, fieldValue)
	case models.OperatorNotIn:
		list, ok := toList(condition.Value)
		return ok && !contains(list, fieldValue)
	case models.OperatorIsNull:
		return !present || isNil(fieldValue)
	case models.OperatorIsNotNull:
		return present && !isNil(fieldValue)
	default:
		return false
	}
}

func equal(a, b any) bool {
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}

	af, aNumeric := toNumber(a)
	bf, bNumeric := toNumber(b)

	if aNumeric && bNumeric {
		return af == bf
	}

	return reflect.DeepEqual(a, b)
}

// compare orders numbers, times and strings. ok is false when a and b are not comparable.
func compare(a, b any) (int, bool) {
	if af, ok := toNumberOrNumericText(a); ok {
		if bf, ok := toNumberOrNumericText(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt), true
		}
	}

	as, aText := a.(string)
	bs, bText := b.(string)

	if aText && bText {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

// toNumber converts Go numeric kinds and json.Number. Strings are not numbers here.
func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func toNumberOrNumericText(value any) (float64, bool) {
	if f, ok := toNumber(value); ok {
		return f, true
	}

	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}

	return 0, false
}

func toText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func toList(value any) ([]any, bool) {
	if list, ok := value.([]any); ok {
		return list, true
	}

	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}

	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}

	return list, true
}

func contains(list []any, value any) bool {
	for _, item := range list {
		if equal(item, value) {
			return true
		}
	}

	return false
}

func isNil(value any) bool {
	if value == nil {
		return true
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
