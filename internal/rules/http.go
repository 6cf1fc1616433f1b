package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/raja-9679/TraceIQ-sub000/pkg/step"
)

// 断言类型
const (
	TypeStatus     = "status"
	TypeJSONPath   = "json-path"
	TypeJSONSchema = "json-schema"
	TypeXPath      = "xpath"
	TypeText       = "text"
)

// Response 被断言的接口响应
type Response struct {
	Status int
	Body   string
}

// CheckHTTP 依次执行接口断言，返回第一个失败
func CheckHTTP(assertions []step.Assertion, res Response) error {
	for _, a := range assertions {
		if err := checkHTTP(a, res); err != nil {
			return err
		}
	}
	return nil
}

func checkHTTP(a step.Assertion, res Response) error {
	switch a.Type {
	case TypeStatus:
		want, err := strconv.Atoi(strings.TrimSpace(a.Value.String()))
		if err != nil {
			return fmt.Errorf("invalid status assertion %q: %w", a.Value, err)
		}
		if res.Status != want {
			return Failf("status", strconv.Itoa(want), strconv.Itoa(res.Status), "Expected status %d but got %d", want, res.Status)
		}
	case TypeJSONPath:
		if !gjson.Valid(res.Body) {
			return Failf(a.Path, a.Value.String(), "", "Response is not JSON, cannot perform json-path assertion")
		}
		actual := gjson.Get(res.Body, a.Path).String()
		want := a.Value.String()
		switch a.Operator {
		case OpContains:
			if !strings.Contains(actual, want) {
				return Failf(a.Path, want, actual, "Expected %s to contain %s but got %s", a.Path, want, actual)
			}
		case OpRegex:
			if !matchRegex(actual, want) {
				return Failf(a.Path, want, actual, "Expected %s to match %s but got %s", a.Path, want, actual)
			}
		case OpExists:
			if !gjson.Get(res.Body, a.Path).Exists() {
				return Failf(a.Path, "", "", "Expected %s to exist", a.Path)
			}
		default:
			if actual != want {
				return Failf(a.Path, want, actual, "Expected %s to equal %s but got %s", a.Path, want, actual)
			}
		}
	case TypeJSONSchema:
		if !gjson.Valid(res.Body) {
			return Failf("body", "", "", "Response is not JSON, cannot perform json-schema assertion")
		}
		schema := a.Value.String()
		if strings.TrimSpace(schema) == "" {
			schema = "{}"
		}
		result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewStringLoader(res.Body))
		if err != nil {
			return fmt.Errorf("invalid json schema: %w", err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.Field()+" "+e.Description())
			}
			return Failf("body", "schema", "", "JSON Schema validation failed: %s", strings.Join(msgs, ", "))
		}
	}
	return nil
}
