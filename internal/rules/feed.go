package rules

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/raja-9679/TraceIQ-sub000/pkg/step"
)

// CheckFeed 执行 feed 断言：xpath 与全文 text
func CheckFeed(assertions []step.Assertion, body string) error {
	var doc *xmlquery.Node
	for _, a := range assertions {
		switch a.Type {
		case TypeXPath:
			if doc == nil {
				var err error
				doc, err = xmlquery.Parse(strings.NewReader(body))
				if err != nil {
					return fmt.Errorf("parse feed: %w", err)
				}
			}
			if err := checkXPath(doc, a); err != nil {
				return err
			}
		case TypeText:
			want := a.Value.String()
			if !strings.Contains(body, want) {
				return Failf("feed", want, "", "Expected feed to contain text %q", want)
			}
		}
	}
	return nil
}

func checkXPath(doc *xmlquery.Node, a step.Assertion) error {
	nodes, err := xmlquery.QueryAll(doc, a.Path)
	if err != nil {
		return fmt.Errorf("invalid xpath %q: %w", a.Path, err)
	}
	want := a.Value.String()

	var value string
	found := len(nodes) > 0
	if found {
		value = nodes[0].InnerText()
	}

	switch a.Operator {
	case OpEquals:
		if !found || value != want {
			return Failf(a.Path, want, value, "Expected XPath %s to equal %s but got %s", a.Path, want, orNull(found, value))
		}
	case OpContains:
		if !found || !strings.Contains(value, want) {
			return Failf(a.Path, want, value, "Expected XPath %s to contain %s but got %s", a.Path, want, orNull(found, value))
		}
	case OpExists:
		if !found {
			return Failf(a.Path, "", "", "Expected XPath %s to exist", a.Path)
		}
	}
	return nil
}

func orNull(found bool, v string) string {
	if !found {
		return "null"
	}
	return v
}
