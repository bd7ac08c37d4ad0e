package worldhist

import (
	"fmt"
	"runtime/debug"

	"golang.org/x/exp/constraints"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func (p panicked) Unwrap() error {
	if err, ok := p.reason.(error); ok {
		return err
	}
	return nil
}

// safely runs f, turning a panic into an error.
func safely(f func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return f()
}

func absDiff[T constraints.Signed](a, b T) T {
	if a > b {
		return a - b
	}
	return b - a
}

// ProgressFunc receives a monotonically increasing progress value in [0, 1]
// during bulk operations. A nil ProgressFunc ignores reports.
type ProgressFunc func(progress float64)

func (f ProgressFunc) report(done, total int) {
	if f == nil {
		return
	}
	if total <= 0 {
		f(1)
		return
	}
	f(float64(done) / float64(total))
}

// Scale returns a ProgressFunc mapping [0, 1] onto [lo, hi] of f.
func (f ProgressFunc) Scale(lo, hi float64) ProgressFunc {
	if f == nil {
		return nil
	}
	return func(p float64) {
		f(lo + (hi-lo)*p)
	}
}
