package headless

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrRendererDisabled is returned by Noop when rendering is switched off.
var ErrRendererDisabled = errors.New("headless renderer disabled")

// StepKind names an interaction performed after the page loads.
type StepKind string

// Supported step kinds.
const (
	StepClick       StepKind = "click"
	StepWaitVisible StepKind = "wait_visible"
	StepSleep       StepKind = "sleep"
)

const (
	defaultStepTimeout = 5 * time.Second
	// stepReserve is kept back from the render deadline for reading the DOM.
	stepReserve = 2 * time.Second
)

// Step is one interaction. Selectors use chromedp search syntax, so XPath
// such as //button[contains(., "Download")] works. An optional step that
// fails or times out is skipped: the absence of its effect is expected.
type Step struct {
	Kind     StepKind
	Selector string
	// Duration is the pause for sleep steps and the timeout for the others.
	Duration time.Duration
	Optional bool
}

// Rule attaches steps to every URL its pattern matches.
type Rule struct {
	Pattern *regexp.Regexp
	Steps   []Step
}

func matchRule(rules []Rule, url string) (Rule, bool) {
	for _, rule := range rules {
		if rule.Pattern.MatchString(url) {
			return rule, true
		}
	}
	return Rule{}, false
}

func runSteps(ctx context.Context, steps []Step, logger *zap.Logger) error {
	for i, step := range steps {
		budget, ok := stepBudget(ctx, stepDuration(step))
		if !ok && step.Optional {
			logger.Debug("optional step skipped, render budget spent",
				zap.Int("step", i),
				zap.String("kind", string(step.Kind)),
				zap.String("selector", step.Selector),
			)
			continue
		}
		if ok {
			step.Duration = budget
		}
		err := runStep(ctx, step)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Kind, ctx.Err())
		}
		if step.Optional {
			logger.Debug("optional step skipped",
				zap.Int("step", i),
				zap.String("kind", string(step.Kind)),
				zap.String("selector", step.Selector),
				zap.Error(err),
			)
			continue
		}
		return fmt.Errorf("step %d (%s %s): %w", i, step.Kind, step.Selector, err)
	}
	return nil
}

func runStep(ctx context.Context, step Step) error {
	action, err := stepAction(step)
	if err != nil {
		return err
	}
	if step.Kind == StepSleep {
		return chromedp.Run(ctx, action)
	}
	stepCtx, cancel := context.WithTimeout(ctx, stepDuration(step))
	defer cancel()
	return chromedp.Run(stepCtx, action)
}

func stepDuration(step Step) time.Duration {
	if step.Duration <= 0 && step.Kind != StepSleep {
		return defaultStepTimeout
	}
	return step.Duration
}

// stepBudget caps want to what is left of ctx's deadline minus stepReserve.
// ok is false when nothing is left.
func stepBudget(ctx context.Context, want time.Duration) (time.Duration, bool) {
	deadline, has := ctx.Deadline()
	if !has {
		return want, true
	}
	left := time.Until(deadline) - stepReserve
	if left <= 0 {
		return 0, false
	}
	return min(want, left), true
}

func stepAction(step Step) (chromedp.Action, error) {
	switch step.Kind {
	case StepClick:
		return chromedp.Click(step.Selector, chromedp.BySearch, chromedp.NodeVisible), nil
	case StepWaitVisible:
		return chromedp.WaitVisible(step.Selector, chromedp.BySearch), nil
	case StepSleep:
		return chromedp.Sleep(step.Duration), nil
	default:
		return nil, fmt.Errorf("unknown step kind %q", step.Kind)
	}
}
