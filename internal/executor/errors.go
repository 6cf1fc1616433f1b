package executor

import (
	"fmt"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/step"
)

// StepError 步骤失败，Result 为接口类步骤失败前已拿到的响应
type StepError struct {
	Index  int
	Kind   step.Kind
	Err    error
	Result *domain.StepResult
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// WaitError 等待元素或 URL 状态超时
type WaitError struct {
	Selector string
	State    engine.ElementState
	Last     string
	Err      error
}

func (e *WaitError) Error() string {
	if e.Last != "" {
		return fmt.Sprintf("waiting for %q to be %s (last %q): %v", e.Selector, e.State, e.Last, e.Err)
	}
	return fmt.Sprintf("waiting for %q to be %s: %v", e.Selector, e.State, e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }

// stateURL expect-url 使用的伪状态
const stateURL engine.ElementState = "url"
